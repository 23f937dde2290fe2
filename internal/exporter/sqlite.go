package exporter

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

// SQLiteExporter 把记录以JSON负载写入SQLite
type SQLiteExporter struct {
	path string
	db   *sql.DB
}

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT,
    source_name TEXT,
    payload TEXT NOT NULL,
    exported_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_url ON records(url);
`

func newSQLiteExporter(path string) (*SQLiteExporter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("打开SQLite输出库失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(recordsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化records表失败: %w", err)
	}
	return &SQLiteExporter{path: path, db: db}, nil
}

// Export 写入一条记录
func (e *SQLiteExporter) Export(record parser.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("记录序列化失败: %w", err)
	}
	url, _ := record["url"].(string)
	sourceName, _ := record["source_name"].(string)
	_, err = e.db.Exec(
		`INSERT INTO records (url, source_name, payload, exported_at) VALUES (?, ?, ?, ?)`,
		url, sourceName, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Flush SQLite自动提交, 无需落盘动作
func (e *SQLiteExporter) Flush() error { return nil }

// Close 关闭输出库
func (e *SQLiteExporter) Close() error {
	return e.db.Close()
}

// Destination 输出库路径
func (e *SQLiteExporter) Destination() string {
	return e.path
}
