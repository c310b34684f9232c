package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/birthday-portal/internal/content"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// recipientColumns はbirthday_recipientsのSELECT/RETURNING句。
var recipientColumns = "id, slug, password_hash, " + contentColumnList + ", created_by, created_at, updated_at"

// PostgresRecipientRepo はPostgreSQLを使用した受け取り手リポジトリ。
type PostgresRecipientRepo struct {
	db *sql.DB
}

// NewPostgresRecipientRepo はPostgresRecipientRepoを生成する。
func NewPostgresRecipientRepo(db *sql.DB) *PostgresRecipientRepo {
	return &PostgresRecipientRepo{db: db}
}

func scanRecipient(s rowScanner) (*model.Recipient, error) {
	var (
		r         model.Recipient
		row       content.Row
		createdBy sql.NullString
	)

	dest := []any{&r.ID, &r.Slug, &r.PasswordHash}
	dest = append(dest, row.ScanTargets()...)
	dest = append(dest, &createdBy, &r.CreatedAt, &r.UpdatedAt)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	r.Content = decodeContent("birthday_recipients", r.ID, row)
	r.CreatedBy = createdBy.String
	return &r, nil
}

// FindBySlug はslugで受け取り手を取得する。見つからない場合はnilを返す。
func (r *PostgresRecipientRepo) FindBySlug(ctx context.Context, slug string) (*model.Recipient, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM birthday_recipients WHERE slug = $1`,
		slug,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find recipient by slug: %w", err)
	}
	return rec, nil
}

// FindByID は指定IDの受け取り手を取得する。見つからない場合はnilを返す。
func (r *PostgresRecipientRepo) FindByID(ctx context.Context, id string) (*model.Recipient, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM birthday_recipients WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find recipient by ID: %w", err)
	}
	return rec, nil
}

// List は受け取り手の要約一覧をcreated_at降順で返す。
func (r *PostgresRecipientRepo) List(ctx context.Context) ([]model.RecipientSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, recipient_name, birthday_date, created_at
		 FROM birthday_recipients
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	summaries := []model.RecipientSummary{}
	for rows.Next() {
		var (
			s    model.RecipientSummary
			name sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Slug, &name, &s.BirthdayDate, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipient summary: %w", err)
		}
		s.RecipientName = name.String
		if s.RecipientName == "" {
			s.RecipientName = content.DefaultRecipientName
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}
	return summaries, nil
}

// Create は受け取り手を作成する。slugが重複する場合は ErrSlugTaken を返す。
func (r *PostgresRecipientRepo) Create(ctx context.Context, rec *model.Recipient) error {
	cols, err := content.Encode(rec.Content)
	if err != nil {
		return fmt.Errorf("failed to encode recipient content: %w", err)
	}

	args := []any{rec.ID, rec.Slug, rec.PasswordHash}
	for _, name := range content.Columns {
		args = append(args, cols[name])
	}
	args = append(args, nullIfEmpty(rec.CreatedBy), rec.CreatedAt, rec.UpdatedAt)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO birthday_recipients (`+recipientColumns+`) VALUES (`+placeholders(len(args))+`)`,
		args...,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	return nil
}

// UpdateColumns は指定カラムのみを更新し、更新後のレコードを返す。見つからない場合はnilを返す。
func (r *PostgresRecipientRepo) UpdateColumns(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error) {
	set, args, err := buildSetClause(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to build recipient update: %w", err)
	}
	args = append(args, id)

	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE birthday_recipients SET %s WHERE id = $%d RETURNING %s`, set, len(args), recipientColumns),
		args...,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update recipient: %w", err)
	}
	return rec, nil
}

// UpdatePasswordHash はパスワードハッシュを更新する。
func (r *PostgresRecipientRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE birthday_recipients SET password_hash = $1, updated_at = now() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return requireAffected(result, id)
}

// Delete は受け取り手を物理削除する。
func (r *PostgresRecipientRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM birthday_recipients WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete recipient: %w", err)
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrRecipientNotFound, id)
	}
	return nil
}

func placeholders(n int) string {
	b := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b = append(b, ", "...)
		}
		b = append(b, fmt.Sprintf("$%d", i)...)
	}
	return string(b)
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ RecipientRepository = (*PostgresRecipientRepo)(nil)
