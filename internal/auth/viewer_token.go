package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// ErrInvalidViewerToken は閲覧者トークンが不正か期限切れであることを示す。
var ErrInvalidViewerToken = errors.New("invalid viewer token")

const viewerTokenIssuer = "birthday-portal"

// ViewerClaims は閲覧者トークンのクレーム。
// IDに閲覧セッションID、Subjectに受け取り手IDを格納する。
type ViewerClaims struct {
	jwt.RegisteredClaims
	Slug string `json:"slug"`
}

// ViewerTokens は閲覧者トークンの発行と検証を行う。
type ViewerTokens struct {
	secret []byte
	now    func() time.Time
}

// NewViewerTokens はViewerTokensを生成する。
func NewViewerTokens(secret string) *ViewerTokens {
	return &ViewerTokens{secret: []byte(secret), now: time.Now}
}

// Issue は閲覧セッションに対するHS256署名付きトークンを発行する。
func (v *ViewerTokens) Issue(session *model.ViewerSession, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ViewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.RecipientID,
			Issuer:    viewerTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Slug: session.Slug,
	})

	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign viewer token: %w", err)
	}
	return signed, nil
}

// Parse はトークンを検証してクレームを返す。
func (v *ViewerTokens) Parse(tokenString string) (*ViewerClaims, error) {
	claims := &ViewerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(viewerTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidViewerToken, err)
	}
	if !token.Valid || claims.ID == "" || claims.Slug == "" {
		return nil, ErrInvalidViewerToken
	}
	return claims, nil
}
