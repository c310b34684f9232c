package recipient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/birthday-portal/internal/content"
	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/realtime"
	"github.com/hitoshi/birthday-portal/internal/repository"
	"github.com/hitoshi/birthday-portal/internal/security"
)

// --- モック ---

type mockRecipientRepo struct {
	createFn             func(ctx context.Context, r *model.Recipient) error
	findByIDFn           func(ctx context.Context, id string) (*model.Recipient, error)
	listFn               func(ctx context.Context) ([]model.RecipientSummary, error)
	updateColumnsFn      func(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error)
	updatePasswordHashFn func(ctx context.Context, id, hash string) error
	deleteFn             func(ctx context.Context, id string) error
}

func (m *mockRecipientRepo) FindBySlug(ctx context.Context, slug string) (*model.Recipient, error) {
	return nil, nil
}
func (m *mockRecipientRepo) FindByID(ctx context.Context, id string) (*model.Recipient, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockRecipientRepo) List(ctx context.Context) ([]model.RecipientSummary, error) {
	return m.listFn(ctx)
}
func (m *mockRecipientRepo) Create(ctx context.Context, r *model.Recipient) error {
	return m.createFn(ctx, r)
}
func (m *mockRecipientRepo) UpdateColumns(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
	return m.updateColumnsFn(ctx, id, columns)
}
func (m *mockRecipientRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return m.updatePasswordHashFn(ctx, id, hash)
}
func (m *mockRecipientRepo) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type mockSiteRepo struct {
	getFn           func(ctx context.Context, key string) (*model.SiteConfig, error)
	updateColumnsFn func(ctx context.Context, key string, columns map[string]any) (*model.SiteConfig, error)
}

func (m *mockSiteRepo) Get(ctx context.Context, key string) (*model.SiteConfig, error) {
	return m.getFn(ctx, key)
}
func (m *mockSiteRepo) UpdateColumns(ctx context.Context, key string, columns map[string]any) (*model.SiteConfig, error) {
	return m.updateColumnsFn(ctx, key, columns)
}

type mockCache struct {
	refreshed []string
	deleted   []string
	err       error
}

func (m *mockCache) Get(ctx context.Context, id string) (*model.Recipient, error) { return nil, nil }
func (m *mockCache) Set(ctx context.Context, r *model.Recipient) error            { return nil }
func (m *mockCache) Refresh(ctx context.Context, r *model.Recipient) error {
	m.refreshed = append(m.refreshed, r.ID)
	return m.err
}
func (m *mockCache) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

type mockPublisher struct {
	events []realtime.Event
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, e realtime.Event) error {
	m.events = append(m.events, e)
	return m.err
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

// --- ヘルパー ---

type fixture struct {
	svc   *Service
	repo  *mockRecipientRepo
	site  *mockSiteRepo
	cache *mockCache
	pub   *mockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	parser, err := content.NewParser(security.NewContentSanitizer(), security.NewMediaURLPolicy(false))
	if err != nil {
		t.Fatalf("NewParser returned error: %v", err)
	}
	f := &fixture{
		repo:  &mockRecipientRepo{},
		site:  &mockSiteRepo{},
		cache: &mockCache{},
		pub:   &mockPublisher{},
	}
	f.svc = NewService(f.repo, f.site, f.cache, f.pub, parser, fakeHasher{}, nil)
	f.svc.now = func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) }
	f.svc.newID = func() string { return "rec-new" }
	return f
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- Create ---

func TestCreate_Success(t *testing.T) {
	f := newFixture(t)
	f.svc.newSuffix = func() string { return "x1y2z3" }

	var stored *model.Recipient
	f.repo.createFn = func(ctx context.Context, r *model.Recipient) error {
		stored = r
		return nil
	}

	rec, err := f.svc.Create(context.Background(), "admin-1", "  Aiko Tanaka ", " abcd ")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if rec.Slug != "aiko-tanaka-x1y2z3" {
		t.Errorf("Slug = %q", rec.Slug)
	}
	if stored.PasswordHash != "hashed:abcd" {
		t.Errorf("PasswordHash = %q", stored.PasswordHash)
	}
	if rec.RecipientName != "Aiko Tanaka" || rec.CreatedBy != "admin-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LetterParagraphs == nil || rec.Memories == nil || rec.QuizQuestions == nil {
		t.Error("default lists should be empty, not nil")
	}
}

func TestCreate_RetriesOnSlugCollision(t *testing.T) {
	f := newFixture(t)
	suffixes := []string{"aaaaaa", "bbbbbb", "cccccc"}
	f.svc.newSuffix = func() string {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s
	}

	var tried []string
	f.repo.createFn = func(ctx context.Context, r *model.Recipient) error {
		tried = append(tried, r.Slug)
		if len(tried) < 3 {
			return repository.ErrSlugTaken
		}
		return nil
	}

	rec, err := f.svc.Create(context.Background(), "admin-1", "Ren", "abcd")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if rec.Slug != "ren-cccccc" || len(tried) != 3 {
		t.Errorf("slug = %q, tried = %v", rec.Slug, tried)
	}
}

func TestCreate_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.repo.createFn = func(ctx context.Context, r *model.Recipient) error {
		calls++
		return repository.ErrSlugTaken
	}

	_, err := f.svc.Create(context.Background(), "admin-1", "Ren", "abcd")
	if !errors.Is(err, repository.ErrSlugTaken) {
		t.Errorf("expected ErrSlugTaken, got %v", err)
	}
	if calls != maxSlugAttempts {
		t.Errorf("calls = %d, want %d", calls, maxSlugAttempts)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	f.repo.createFn = func(ctx context.Context, r *model.Recipient) error {
		t.Error("Create should not be called")
		return nil
	}

	_, err := f.svc.Create(context.Background(), "admin-1", "  ", "abcd")
	assertAPIError(t, err, model.ErrCodeInvalidContent)

	_, err = f.svc.Create(context.Background(), "admin-1", "Aiko", "abc")
	assertAPIError(t, err, model.ErrCodePasswordTooShort)
}

func TestSlugBase(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Aiko", "aiko"},
		{"Mary-Jane  O'Neil", "mary-jane-o-neil"},
		{"  --Ken--  ", "ken"},
		{"さくら", fallbackSlug},
		{"Éva 2026", "va-2026"},
		{strings.Repeat("a", 50), strings.Repeat("a", maxSlugBaseLen)},
	}
	for _, tt := range tests {
		if got := slugBase(tt.name); got != tt.want {
			t.Errorf("slugBase(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// --- Get / List ---

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.findByIDFn = func(ctx context.Context, id string) (*model.Recipient, error) {
		return nil, nil
	}

	_, err := f.svc.Get(context.Background(), "missing")
	assertAPIError(t, err, model.ErrCodeRecipientNotFound)
}

func TestList_PropagatesError(t *testing.T) {
	f := newFixture(t)
	f.repo.listFn = func(ctx context.Context) ([]model.RecipientSummary, error) {
		return nil, errors.New("db down")
	}

	if _, err := f.svc.List(context.Background()); err == nil {
		t.Error("expected error")
	}
}

// --- Update ---

// 異なるセッションからの連続した部分更新は後勝ちになる。
func TestUpdate_LastWriteWins(t *testing.T) {
	f := newFixture(t)
	stored := map[string]any{}
	f.repo.updateColumnsFn = func(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
		for k, v := range columns {
			stored[k] = v
		}
		return &model.Recipient{ID: id, Content: model.Content{LetterTitle: stored["letter_title"].(string)}}, nil
	}

	if _, err := f.svc.Update(context.Background(), "rec-1", []byte(`{"letter_title":"A"}`)); err != nil {
		t.Fatalf("first Update returned error: %v", err)
	}
	rec, err := f.svc.Update(context.Background(), "rec-1", []byte(`{"letter_title":"B"}`))
	if err != nil {
		t.Fatalf("second Update returned error: %v", err)
	}

	if stored["letter_title"] != "B" || rec.LetterTitle != "B" {
		t.Errorf("letter_title = %v, want B", stored["letter_title"])
	}
	if len(stored) != 1 {
		t.Errorf("only patched columns should be written, got %v", stored)
	}
}

func TestUpdate_RefreshesCacheAndPublishes(t *testing.T) {
	f := newFixture(t)
	updatedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	f.repo.updateColumnsFn = func(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
		return &model.Recipient{ID: id, UpdatedAt: updatedAt}, nil
	}

	if _, err := f.svc.Update(context.Background(), "rec-1", []byte(`{"show_quiz":false}`)); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if len(f.cache.refreshed) != 1 || f.cache.refreshed[0] != "rec-1" {
		t.Errorf("refreshed = %v", f.cache.refreshed)
	}
	if len(f.pub.events) != 1 {
		t.Fatalf("events = %v", f.pub.events)
	}
	ev := f.pub.events[0]
	if ev.Type != realtime.EventUpdated || ev.RecipientID != "rec-1" || ev.Recipient == nil || !ev.UpdatedAt.Equal(updatedAt) {
		t.Errorf("unexpected event: %+v", ev)
	}
}

// 通知やキャッシュの失敗は更新を失敗させない。
func TestUpdate_SideEffectFailuresAreLogged(t *testing.T) {
	f := newFixture(t)
	f.cache.err = errors.New("redis down")
	f.pub.err = errors.New("redis down")
	f.repo.updateColumnsFn = func(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
		return &model.Recipient{ID: id}, nil
	}

	if _, err := f.svc.Update(context.Background(), "rec-1", []byte(`{"show_quiz":true}`)); err != nil {
		t.Errorf("Update should succeed, got %v", err)
	}
}

func TestUpdate_InvalidPatchSkipsStorage(t *testing.T) {
	f := newFixture(t)
	f.repo.updateColumnsFn = func(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
		t.Error("UpdateColumns should not be called")
		return nil, nil
	}

	_, err := f.svc.Update(context.Background(), "rec-1", []byte(`{"slug":"hijack"}`))
	assertAPIError(t, err, model.ErrCodeInvalidContent)
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.updateColumnsFn = func(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
		return nil, nil
	}

	_, err := f.svc.Update(context.Background(), "gone", []byte(`{"show_quiz":true}`))
	assertAPIError(t, err, model.ErrCodeRecipientNotFound)
	if len(f.pub.events) != 0 {
		t.Error("no event should be published for a missing recipient")
	}
}

// --- Delete ---

func TestDelete_EvictsAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.repo.deleteFn = func(ctx context.Context, id string) error { return nil }

	if err := f.svc.Delete(context.Background(), "rec-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(f.cache.deleted) != 1 {
		t.Errorf("deleted = %v", f.cache.deleted)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != realtime.EventDeleted || f.pub.events[0].Recipient != nil {
		t.Errorf("events = %+v", f.pub.events)
	}
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.deleteFn = func(ctx context.Context, id string) error {
		return model.ErrRecipientNotFound
	}

	err := f.svc.Delete(context.Background(), "gone")
	assertAPIError(t, err, model.ErrCodeRecipientNotFound)
}

// --- ChangePassword ---

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	var gotHash string
	f.repo.updatePasswordHashFn = func(ctx context.Context, id, hash string) error {
		gotHash = hash
		return nil
	}

	if err := f.svc.ChangePassword(context.Background(), "rec-1", "wxyz"); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if gotHash != "hashed:wxyz" {
		t.Errorf("hash = %q", gotHash)
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	f := newFixture(t)
	f.repo.updatePasswordHashFn = func(ctx context.Context, id, hash string) error {
		t.Error("UpdatePasswordHash should not be called")
		return nil
	}

	err := f.svc.ChangePassword(context.Background(), "rec-1", "abc")
	assertAPIError(t, err, model.ErrCodePasswordTooShort)
}

// 空白で水増しした短いパスワードは受け付けず、正当なものは空白を除いてハッシュする。
func TestChangePassword_TrimsWhitespace(t *testing.T) {
	f := newFixture(t)
	var gotHash string
	f.repo.updatePasswordHashFn = func(ctx context.Context, id, hash string) error {
		gotHash = hash
		return nil
	}

	err := f.svc.ChangePassword(context.Background(), "rec-1", "   x")
	assertAPIError(t, err, model.ErrCodePasswordTooShort)
	if gotHash != "" {
		t.Errorf("padded short password should not be stored, got %q", gotHash)
	}

	if err := f.svc.ChangePassword(context.Background(), "rec-1", "  wxyz  "); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if gotHash != "hashed:wxyz" {
		t.Errorf("hash = %q, want %q", gotHash, "hashed:wxyz")
	}
}

func TestChangePassword_NotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.updatePasswordHashFn = func(ctx context.Context, id, hash string) error {
		return model.ErrRecipientNotFound
	}

	err := f.svc.ChangePassword(context.Background(), "gone", "abcd")
	assertAPIError(t, err, model.ErrCodeRecipientNotFound)
}

// --- Site ---

func TestGetSite_NotFound(t *testing.T) {
	f := newFixture(t)
	f.site.getFn = func(ctx context.Context, key string) (*model.SiteConfig, error) {
		if key != model.DefaultSiteConfigKey {
			t.Errorf("key = %q", key)
		}
		return nil, nil
	}

	_, err := f.svc.GetSite(context.Background())
	assertAPIError(t, err, model.ErrCodeSiteNotFound)
}

func TestUpdateSite(t *testing.T) {
	f := newFixture(t)
	f.site.updateColumnsFn = func(ctx context.Context, key string, columns map[string]any) (*model.SiteConfig, error) {
		if columns["sender_name"] != "Mom" {
			t.Errorf("columns = %v", columns)
		}
		return &model.SiteConfig{ConfigKey: key}, nil
	}

	sc, err := f.svc.UpdateSite(context.Background(), []byte(`{"sender_name":"Mom"}`))
	if err != nil {
		t.Fatalf("UpdateSite returned error: %v", err)
	}
	if sc.ConfigKey != model.DefaultSiteConfigKey {
		t.Errorf("ConfigKey = %q", sc.ConfigKey)
	}
	if len(f.pub.events) != 0 {
		t.Error("site updates are not published per recipient")
	}
}
