package security

import (
	"fmt"
	"net/url"
	"strings"
)

// allowedSchemes は体験コンテンツに埋め込めるURLのスキーム。
// javascript:やdata:は閲覧者のブラウザで実行されうるため許可しない。
var allowedSchemes = []string{"http", "https"}

// MediaURLPolicy は管理者が設定するメディアURL・リンクURLの検証ポリシー。
type MediaURLPolicy interface {
	// ValidateURL はURLが埋め込み可能かを検証する。空文字列は「未設定」として許可する。
	ValidateURL(rawURL string) error
}

type mediaURLPolicy struct {
	requireHTTPS bool
}

// NewMediaURLPolicy はMediaURLPolicyを生成する。
// requireHTTPSがtrueの場合、httpスキームも拒否する。
func NewMediaURLPolicy(requireHTTPS bool) MediaURLPolicy {
	return &mediaURLPolicy{requireHTTPS: requireHTTPS}
}

// ValidateURL はURLを検証する。
func (p *mediaURLPolicy) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	if p.requireHTTPS && scheme != "https" {
		return fmt.Errorf("https is required")
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	if u.User != nil {
		return fmt.Errorf("URL must not contain credentials")
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, s := range allowedSchemes {
		if scheme == s {
			return true
		}
	}
	return false
}
