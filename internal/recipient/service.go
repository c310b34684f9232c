// Package recipient は管理画面からの受け取り手とサイト設定の管理を提供する。
package recipient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dchest/uniuri"
	"github.com/google/uuid"

	"github.com/hitoshi/birthday-portal/internal/content"
	"github.com/hitoshi/birthday-portal/internal/metrics"
	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/realtime"
	"github.com/hitoshi/birthday-portal/internal/repository"
)

// slug生成の制約。
const (
	maxSlugBaseLen  = 32
	slugSuffixLen   = 6
	maxSlugAttempts = 5
	fallbackSlug    = "birthday"
)

// slugSuffixChars はslugの末尾に付与するランダム文字列の文字集合。
var slugSuffixChars = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// PatchParser は管理画面からの部分更新リクエストを検証するインターフェース。
type PatchParser interface {
	ParsePatch(body []byte) (*content.Patch, error)
}

// PasswordHasher はパスワードハッシュを生成するインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Service は受け取り手管理のサービス層。
// 更新は対象カラムのみの1行更新で、同時編集は後勝ちとなる。
type Service struct {
	recipients repository.RecipientRepository
	site       repository.SiteConfigRepository
	cache      repository.RecipientCache
	publisher  realtime.Publisher
	parser     PatchParser
	hasher     PasswordHasher
	metrics    metrics.MetricsCollector
	now        func() time.Time
	newID      func() string
	newSuffix  func() string
}

// NewService はServiceを生成する。
func NewService(
	recipients repository.RecipientRepository,
	site repository.SiteConfigRepository,
	cache repository.RecipientCache,
	publisher realtime.Publisher,
	parser PatchParser,
	hasher PasswordHasher,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		recipients: recipients,
		site:       site,
		cache:      cache,
		publisher:  publisher,
		parser:     parser,
		hasher:     hasher,
		metrics:    collector,
		now:        time.Now,
		newID:      uuid.NewString,
		newSuffix: func() string {
			return uniuri.NewLenChars(slugSuffixLen, slugSuffixChars)
		},
	}
}

// Create は名前とパスワードから受け取り手を作成する。
// slugは名前とランダムな接尾辞から生成し、重複時は接尾辞を変えて再試行する。
func (s *Service) Create(ctx context.Context, adminID, name, password string) (*model.Recipient, error) {
	name = strings.TrimSpace(name)
	password = strings.TrimSpace(password)
	if name == "" {
		return nil, model.NewInvalidContentError("recipient_name is required")
	}
	if utf8.RuneCountInString(password) < model.MinPasswordLength {
		return nil, model.NewPasswordTooShortError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now().UTC()
	rec := &model.Recipient{
		ID:           s.newID(),
		PasswordHash: hash,
		Content:      content.Defaults(name),
		CreatedBy:    adminID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	base := slugBase(name)
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		rec.Slug = base + "-" + s.newSuffix()
		err = s.recipients.Create(ctx, rec)
		if err == nil {
			s.record("create")
			slog.Info("受け取り手を作成しました",
				slog.String("recipient_id", rec.ID),
				slog.String("slug", rec.Slug),
				slog.String("created_by", adminID),
			)
			return rec, nil
		}
		if !errors.Is(err, repository.ErrSlugTaken) {
			return nil, fmt.Errorf("受け取り手の作成に失敗しました: %w", err)
		}
		slog.Warn("slugが重複したため再生成します",
			slog.String("slug", rec.Slug),
			slog.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("受け取り手の作成に失敗しました: %w", err)
}

// List は受け取り手の一覧を作成日時の降順で返す。
func (s *Service) List(ctx context.Context) ([]model.RecipientSummary, error) {
	list, err := s.recipients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("受け取り手一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// Get は受け取り手を取得する。存在しない場合は *model.APIError を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Recipient, error) {
	rec, err := s.recipients.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("受け取り手の取得に失敗しました: %w", err)
	}
	if rec == nil {
		return nil, model.NewRecipientNotFoundError(id)
	}
	return rec, nil
}

// Update は部分更新を適用し、更新後のレコードをキャッシュと変更通知に反映する。
func (s *Service) Update(ctx context.Context, id string, body []byte) (*model.Recipient, error) {
	cols, err := s.parseColumns(body)
	if err != nil {
		return nil, err
	}

	rec, err := s.recipients.UpdateColumns(ctx, id, cols)
	if err != nil {
		return nil, fmt.Errorf("受け取り手の更新に失敗しました: %w", err)
	}
	if rec == nil {
		return nil, model.NewRecipientNotFoundError(id)
	}
	s.record("update")

	// 閲覧中のセッションには次の読み込みで反映される
	if err := s.cache.Refresh(ctx, rec); err != nil {
		slog.Warn("受け取り手キャッシュの更新に失敗しました",
			slog.String("recipient_id", id),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, realtime.Event{
		Type:        realtime.EventUpdated,
		RecipientID: rec.ID,
		Recipient:   rec,
		UpdatedAt:   rec.UpdatedAt,
	})
	return rec, nil
}

// Delete は受け取り手を物理削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.recipients.Delete(ctx, id); err != nil {
		if errors.Is(err, model.ErrRecipientNotFound) {
			return model.NewRecipientNotFoundError(id)
		}
		return fmt.Errorf("受け取り手の削除に失敗しました: %w", err)
	}
	s.record("delete")

	if err := s.cache.Delete(ctx, id); err != nil {
		slog.Warn("受け取り手キャッシュの削除に失敗しました",
			slog.String("recipient_id", id),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, realtime.Event{
		Type:        realtime.EventDeleted,
		RecipientID: id,
		UpdatedAt:   s.now().UTC(),
	})
	return nil
}

// ChangePassword は受け取り手のパスワードを変更する。
// 作成時と同じく前後の空白を除き、model.MinPasswordLength 文字以上でなければならない。
func (s *Service) ChangePassword(ctx context.Context, id, newPassword string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewInvalidContentError("recipientId is required")
	}
	newPassword = strings.TrimSpace(newPassword)
	if utf8.RuneCountInString(newPassword) < model.MinPasswordLength {
		return model.NewPasswordTooShortError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.recipients.UpdatePasswordHash(ctx, id, hash); err != nil {
		if errors.Is(err, model.ErrRecipientNotFound) {
			return model.NewRecipientNotFoundError(id)
		}
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	s.record("password")
	return nil
}

// GetSite はデフォルトサイト設定を返す。
func (s *Service) GetSite(ctx context.Context) (*model.SiteConfig, error) {
	sc, err := s.site.Get(ctx, model.DefaultSiteConfigKey)
	if err != nil {
		return nil, fmt.Errorf("サイト設定の取得に失敗しました: %w", err)
	}
	if sc == nil {
		return nil, model.NewSiteNotFoundError()
	}
	return sc, nil
}

// UpdateSite はデフォルトサイト設定に部分更新を適用する。
func (s *Service) UpdateSite(ctx context.Context, body []byte) (*model.SiteConfig, error) {
	cols, err := s.parseColumns(body)
	if err != nil {
		return nil, err
	}

	sc, err := s.site.UpdateColumns(ctx, model.DefaultSiteConfigKey, cols)
	if err != nil {
		return nil, fmt.Errorf("サイト設定の更新に失敗しました: %w", err)
	}
	if sc == nil {
		return nil, model.NewSiteNotFoundError()
	}
	s.record("site")
	return sc, nil
}

func (s *Service) parseColumns(body []byte) (map[string]any, error) {
	patch, err := s.parser.ParsePatch(body)
	if err != nil {
		return nil, err
	}
	cols, err := patch.Columns()
	if err != nil {
		return nil, fmt.Errorf("更新内容の変換に失敗しました: %w", err)
	}
	return cols, nil
}

// publish は変更通知を発行する。失敗しても更新自体は成功しているためログのみ残す。
func (s *Service) publish(ctx context.Context, event realtime.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("変更通知の発行に失敗しました",
			slog.String("recipient_id", event.RecipientID),
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) record(op string) {
	if s.metrics != nil {
		s.metrics.RecordRecipientChange(op)
	}
}

// slugBase は名前からURLに使える英小文字・数字・ハイフンのみの文字列を作る。
// 使える文字が残らない場合は fallbackSlug を返す。
func slugBase(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
		if b.Len() >= maxSlugBaseLen {
			break
		}
	}

	s := strings.Trim(b.String(), "-")
	if s == "" {
		return fallbackSlug
	}
	return s
}
