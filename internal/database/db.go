package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open はsubscriptionsテーブルを保持するPostgreSQLへの接続を開く。
// sql.Openは接続を試行しないため、疎通確認は呼び出し側でPingContextを使う。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}
	return db, nil
}
