package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteBackend 用单表 kv_entries 存储整块值，和移动端 AsyncStorage 的落盘方式一致。
type SQLiteBackend struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

// OpenSQLite 打开数据库并执行内嵌迁移。
func OpenSQLite(path string, logger *log.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单设备单写者：一个连接足够，也避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Printf("[KV] sqlite backend ready at %s", path)
	return &SQLiteBackend{db: db, logger: logger, now: time.Now}, nil
}

func migrate(db *sql.DB, logger *log.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(logger)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Get 读取 key，不存在时返回 ErrNotFound。
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

// Set 以 upsert 覆盖写入 key。
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, b.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
