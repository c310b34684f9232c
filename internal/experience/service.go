package experience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/birthday-portal/internal/metrics"
	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/repository"
)

// DefaultSessionTTL は閲覧セッションのデフォルト有効期間。
const DefaultSessionTTL = 12 * time.Hour

// State は閲覧者に返す体験の現在状態。
type State struct {
	SessionID string           `json:"session_id"`
	Recipient *model.Recipient `json:"recipient"`
	Steps     []StepID         `json:"steps"`
	Index     int              `json:"index"`
	Current   StepID           `json:"current"`
	IsLast    bool             `json:"is_last"`
	Unlocked  bool             `json:"unlocked"`
	// Locked はカウントダウン画面で前進が阻まれている状態を示す。
	Locked    bool      `json:"locked"`
	Countdown Remaining `json:"countdown"`
}

// Service は閲覧セッション単位で体験の進行を管理するサービス層。
// 受け取り手の設定はセッション開始時にキャッシュへ保存し、以降はキャッシュから読む。
type Service struct {
	sessions   repository.ViewerSessionStore
	cache      repository.RecipientCache
	recipients repository.RecipientRepository
	metrics    metrics.MetricsCollector
	ttl        time.Duration
	now        func() time.Time
	newID      func() string
}

// NewService はServiceを生成する。ttlが0以下の場合は DefaultSessionTTL を使用する。
func NewService(
	sessions repository.ViewerSessionStore,
	cache repository.RecipientCache,
	recipients repository.RecipientRepository,
	collector metrics.MetricsCollector,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		sessions:   sessions,
		cache:      cache,
		recipients: recipients,
		metrics:    collector,
		ttl:        ttl,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// TTL は閲覧セッションの有効期間を返す。
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Start は認証済みの受け取り手に対して閲覧セッションを開始する。
func (s *Service) Start(ctx context.Context, recipient *model.Recipient) (*model.ViewerSession, error) {
	session := &model.ViewerSession{
		ID:          s.newID(),
		RecipientID: recipient.ID,
		Slug:        recipient.Slug,
		StepIndex:   0,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.cache.Set(ctx, recipient); err != nil {
		// キャッシュできなくても体験はDBからの読み込みで継続できる
		slog.Warn("受け取り手設定のキャッシュに失敗しました",
			slog.String("recipient_id", recipient.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.sessions.Create(ctx, session, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to create viewer session: %w", err)
	}
	return session, nil
}

// State は現在の体験状態を返す。ステップ列が縮んでいた場合は位置を丸めて保存する。
func (s *Service) State(ctx context.Context, sessionID string) (*State, error) {
	return s.transition(ctx, sessionID, func(*Sequencer, bool) error { return nil })
}

// Advance は次のステップへ進む。
// 誕生日前のカウントダウンでは状態とともに model.ErrStepLocked を返す。
func (s *Service) Advance(ctx context.Context, sessionID string) (*State, error) {
	return s.transition(ctx, sessionID, func(seq *Sequencer, unlocked bool) error {
		return seq.Advance(unlocked)
	})
}

// Retreat は前のステップへ戻る。
func (s *Service) Retreat(ctx context.Context, sessionID string) (*State, error) {
	return s.transition(ctx, sessionID, func(seq *Sequencer, _ bool) error {
		seq.Retreat()
		return nil
	})
}

// JumpTo は指定ステップへ直接移動する。
func (s *Service) JumpTo(ctx context.Context, sessionID string, step StepID) (*State, error) {
	return s.transition(ctx, sessionID, func(seq *Sequencer, unlocked bool) error {
		return seq.JumpTo(step, unlocked)
	})
}

// SubmitQuiz はクイズの回答を採点し、クイズステップを完了として次へ進む。
func (s *Service) SubmitQuiz(ctx context.Context, sessionID string, answers []int) (*State, *QuizResult, error) {
	var result QuizResult
	state, err := s.transitionWith(ctx, sessionID, func(seq *Sequencer, rec *model.Recipient, unlocked bool) error {
		if err := seq.Complete(StepQuiz, unlocked); err != nil {
			return err
		}
		result = ScoreQuiz(rec.QuizQuestions, answers)
		return nil
	})
	if err != nil {
		return state, nil, err
	}
	return state, &result, nil
}

// CompleteCake はケーキのお祝いを完了として次へ進む。
func (s *Service) CompleteCake(ctx context.Context, sessionID string) (*State, error) {
	return s.transition(ctx, sessionID, func(seq *Sequencer, unlocked bool) error {
		return seq.Complete(StepCake, unlocked)
	})
}

// End は閲覧セッションを終了する。
func (s *Service) End(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete viewer session: %w", err)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, sessionID string, fn func(*Sequencer, bool) error) (*State, error) {
	return s.transitionWith(ctx, sessionID, func(seq *Sequencer, _ *model.Recipient, unlocked bool) error {
		return fn(seq, unlocked)
	})
}

// transitionWith はセッションと設定を読み込み、fnで位置を変更して保存する。
// fnがエラーを返した場合も、丸めによる位置の変化は保存する。
// 返す状態は常に丸めとfn適用後の位置を反映する。
func (s *Service) transitionWith(
	ctx context.Context,
	sessionID string,
	fn func(*Sequencer, *model.Recipient, bool) error,
) (*State, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get viewer session: %w", err)
	}
	if session == nil {
		return nil, model.ErrViewerSessionNotFound
	}

	recipient, err := s.loadRecipient(ctx, session.RecipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		// 受け取り手が削除済みの場合はセッションも破棄する
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			slog.Warn("閲覧セッションの削除に失敗しました",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.ErrRecipientNotFound
	}

	now := s.now()
	unlocked := IsUnlocked(recipient.Content, now)
	seq := NewSequencer(recipient.Content, session.StepIndex)
	fnErr := fn(seq, recipient, unlocked)

	if seq.Index() != session.StepIndex {
		session.StepIndex = seq.Index()
		if err := s.sessions.Update(ctx, session); err != nil {
			if errors.Is(err, model.ErrViewerSessionNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update viewer session: %w", err)
		}
		if fnErr == nil && s.metrics != nil {
			s.metrics.RecordStepTransition(string(seq.Current()))
		}
	}

	return buildState(session.ID, recipient, seq, unlocked, now), fnErr
}

// loadRecipient はキャッシュから設定を読み、なければDBから読み込んでキャッシュする。
// 受け取り手が存在しない場合はnilを返す。
func (s *Service) loadRecipient(ctx context.Context, id string) (*model.Recipient, error) {
	rec, err := s.cache.Get(ctx, id)
	if err != nil {
		slog.Warn("受け取り手設定のキャッシュ読み込みに失敗しました",
			slog.String("recipient_id", id),
			slog.String("error", err.Error()),
		)
	}
	if rec != nil {
		return rec, nil
	}

	rec, err = s.recipients.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	if rec == nil {
		return nil, nil
	}

	if err := s.cache.Set(ctx, rec); err != nil {
		slog.Warn("受け取り手設定のキャッシュに失敗しました",
			slog.String("recipient_id", id),
			slog.String("error", err.Error()),
		)
	}
	return rec, nil
}

func buildState(sessionID string, rec *model.Recipient, seq *Sequencer, unlocked bool, now time.Time) *State {
	return &State{
		SessionID: sessionID,
		Recipient: rec,
		Steps:     seq.Steps(),
		Index:     seq.Index(),
		Current:   seq.Current(),
		IsLast:    seq.IsLast(),
		Unlocked:  unlocked,
		Locked:    seq.Current() == StepCountdown && !unlocked,
		Countdown: Countdown(rec.BirthdayDate, now),
	}
}
