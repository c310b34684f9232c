// Package gate はslugとパスワードによる受け取り手へのアクセス判定を提供する。
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/birthday-portal/internal/metrics"
	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/repository"
)

// PasswordVerifier はパスワードハッシュの照合を行うインターフェース。
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
	// VerifyDummy は存在しないslugに対して同等の計算量で照合し、常にfalseを返す。
	VerifyDummy(password string) bool
}

// Gate はアクセスゲートのサービス層。
type Gate struct {
	recipients repository.RecipientRepository
	verifier   PasswordVerifier
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewGate はGateを生成する。
func NewGate(recipients repository.RecipientRepository, verifier PasswordVerifier, collector metrics.MetricsCollector) *Gate {
	return &Gate{
		recipients: recipients,
		verifier:   verifier,
		metrics:    collector,
		now:        time.Now,
	}
}

// VerifyAccess はslugとパスワードを照合し、一致した受け取り手を返す。
//
// 空の入力は永続化層に問い合わせる前に model.ErrValidation を返す。
// slugが存在しない場合とパスワードが異なる場合はどちらも model.ErrInvalidCredentials を返し、
// 存在しないslugでもダミーハッシュで照合して処理時間を揃える。
// 永続化層の障害は詳細をログに記録し、model.ErrBackendUnavailable として返す。
func (g *Gate) VerifyAccess(ctx context.Context, slug, password string) (*model.Recipient, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" || strings.TrimSpace(password) == "" {
		g.record(metrics.AccessResultValidation)
		return nil, fmt.Errorf("%w: slug and password are required", model.ErrValidation)
	}

	start := g.now()
	defer func() {
		if g.metrics != nil {
			g.metrics.RecordAccessLatency(g.now().Sub(start))
		}
	}()

	recipient, err := g.recipients.FindBySlug(ctx, slug)
	if err != nil {
		slog.Error("受け取り手の取得に失敗しました",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		g.record(metrics.AccessResultError)
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}

	if recipient == nil {
		g.verifier.VerifyDummy(password)
		g.record(metrics.AccessResultInvalid)
		return nil, model.ErrInvalidCredentials
	}

	ok, err := g.verifier.Verify(password, recipient.PasswordHash)
	if err != nil {
		// 破損したハッシュは照合不能として扱い、利用者には不一致と同じ応答を返す
		slog.Error("パスワードハッシュの形式が不正です",
			slog.String("recipient_id", recipient.ID),
			slog.String("error", err.Error()),
		)
		g.record(metrics.AccessResultError)
		return nil, model.ErrInvalidCredentials
	}
	if !ok {
		g.record(metrics.AccessResultInvalid)
		return nil, model.ErrInvalidCredentials
	}

	g.record(metrics.AccessResultSuccess)
	return recipient, nil
}

func (g *Gate) record(result string) {
	if g.metrics != nil {
		g.metrics.RecordAccessAttempt(result)
	}
}
