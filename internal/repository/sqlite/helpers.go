// 文件路径: internal/repository/sqlite/helpers.go
// 模块说明: 这是 internal 模块里的 helpers 逻辑，放置仓储共用的小工具。
package sqlite

import (
	"context"
	"database/sql"
)

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// scanPairs reads (group_name, proxy_name) rows into a map.
func scanPairs(ctx context.Context, db *sql.DB, query string, args ...any) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var group, proxy string
		if err := rows.Scan(&group, &proxy); err != nil {
			return nil, err
		}
		result[group] = proxy
	}
	return result, rows.Err()
}
