package repository

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hitoshi/birthday-portal/internal/content"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// contentColumnList はSELECT/RETURNING句で使用するコンテンツカラムの列挙。
var contentColumnList = strings.Join(content.Columns, ", ")

// updatableColumns は部分更新で指定可能なカラム。
var updatableColumns = func() map[string]bool {
	m := make(map[string]bool, len(content.Columns))
	for _, c := range content.Columns {
		m[c] = true
	}
	return m
}()

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// buildSetClause は "a = $1, b = $2, updated_at = now()" 形式のSET句と引数を返す。
// カラム名はソートして順序を決定的にする。未知のカラムはエラーとする。
func buildSetClause(columns map[string]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("no columns to update")
	}

	names := make([]string, 0, len(columns))
	for name := range columns {
		if !updatableColumns[name] {
			return "", nil, fmt.Errorf("column %q is not updatable", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		sets = append(sets, fmt.Sprintf("%s = $%d", name, i+1))
		args = append(args, columns[name])
	}
	sets = append(sets, "updated_at = now()")

	return strings.Join(sets, ", "), args, nil
}

// decodeContent は生データを変換し、強制変換した内容を警告ログに記録する。
func decodeContent(table, id string, row content.Row) model.Content {
	c, issues := content.Decode(row)
	for _, issue := range issues {
		slog.Warn("コンテンツを補正して読み込みました",
			slog.String("table", table),
			slog.String("id", id),
			slog.String("field", issue.Field),
			slog.String("reason", issue.Reason),
		)
	}
	return c
}
