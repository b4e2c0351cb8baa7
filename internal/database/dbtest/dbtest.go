// Package dbtest はPostgreSQLを使う統合テストの共通セットアップを提供する。
//
// 環境変数 TEST_DATABASE_URL が設定されていればそのDBを使用し、
// 未設定の場合はtestcontainersでpostgres:16-alpineを起動する。
// どちらも利用できない環境ではテストをスキップする。
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// URL はテスト用PostgreSQLの接続URLを返す。
func URL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("attendly_test"),
		tcpostgres.WithUsername("attendly"),
		tcpostgres.WithPassword("attendly"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("PostgreSQLコンテナの起動に失敗: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("接続文字列の取得に失敗: %v", err)
	}
	return dsn
}

// Open は接続を開き、スキーマを空の状態に戻したDBを返す。
// 接続できない場合はテストをスキップする。
func Open(t *testing.T, url string) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	Reset(t, db)
	return db
}

// Reset は全テーブルとマイグレーション履歴を削除する。
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()

	cleanupSQL := `
		DROP TABLE IF EXISTS event_attendance CASCADE;
		DROP TABLE IF EXISTS events CASCADE;
		DROP TABLE IF EXISTS users CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`
	if _, err := db.Exec(cleanupSQL); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
}
