package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/birthday-portal/internal/content"
	"github.com/hitoshi/birthday-portal/internal/model"
)

var siteConfigColumns = "id, config_key, " + contentColumnList + ", created_at, updated_at"

// PostgresSiteConfigRepo はPostgreSQLを使用したサイト設定リポジトリ。
type PostgresSiteConfigRepo struct {
	db *sql.DB
}

// NewPostgresSiteConfigRepo はPostgresSiteConfigRepoを生成する。
func NewPostgresSiteConfigRepo(db *sql.DB) *PostgresSiteConfigRepo {
	return &PostgresSiteConfigRepo{db: db}
}

func scanSiteConfig(s rowScanner) (*model.SiteConfig, error) {
	var (
		sc  model.SiteConfig
		row content.Row
	)

	dest := []any{&sc.ID, &sc.ConfigKey}
	dest = append(dest, row.ScanTargets()...)
	dest = append(dest, &sc.CreatedAt, &sc.UpdatedAt)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	sc.Content = decodeContent("site_config", sc.ConfigKey, row)
	return &sc, nil
}

// Get は指定キーの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSiteConfigRepo) Get(ctx context.Context, configKey string) (*model.SiteConfig, error) {
	sc, err := scanSiteConfig(r.db.QueryRowContext(ctx,
		`SELECT `+siteConfigColumns+` FROM site_config WHERE config_key = $1`,
		configKey,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find site config: %w", err)
	}
	return sc, nil
}

// UpdateColumns は指定カラムのみを更新し、更新後の設定を返す。見つからない場合はnilを返す。
func (r *PostgresSiteConfigRepo) UpdateColumns(ctx context.Context, configKey string, columns map[string]any) (*model.SiteConfig, error) {
	set, args, err := buildSetClause(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to build site config update: %w", err)
	}
	args = append(args, configKey)

	sc, err := scanSiteConfig(r.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE site_config SET %s WHERE config_key = $%d RETURNING %s`, set, len(args), siteConfigColumns),
		args...,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update site config: %w", err)
	}
	return sc, nil
}

// compile-time interface check
var _ SiteConfigRepository = (*PostgresSiteConfigRepo)(nil)
