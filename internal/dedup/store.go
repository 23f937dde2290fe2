package dedup

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// StorageError 去重库读写错误, 命中该错误的信息源本轮抓取以失败收场
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("去重库%s失败: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Result 一次查重的判定结果
type Result struct {
	URLDuplicate     bool
	ContentDuplicate bool
}

// IsDuplicate 任一维度命中即视为重复
func (r Result) IsDuplicate() bool {
	return r.URLDuplicate || r.ContentDuplicate
}

// HistoryEntry 历史记录行
type HistoryEntry struct {
	URL       string
	Timestamp string
}

// Store 基于SQLite的抓取历史去重库
// 查重与写入在同一把锁下完成, 保证先到先得
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	byURL     bool
	byContent bool
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_history (
    url TEXT PRIMARY KEY,
    content_hash TEXT,
    timestamp TEXT,
    source_name TEXT
);
CREATE INDEX IF NOT EXISTS idx_crawl_history_content_hash ON crawl_history(content_hash);
`

// Open 打开(必要时创建)去重库
func Open(path string, byURL, byContent bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "初始化", Err: err}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &StorageError{Op: "打开", Err: err}
	}
	// 串行化访问, sqlite单写者
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "建表", Err: err}
	}
	return &Store{db: db, path: path, byURL: byURL, byContent: byContent}, nil
}

// HashContent 内容指纹, sha256十六进制
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CheckAndStore 查重并登记, 整个过程持锁
// 未命中时写入历史并返回非重复; 任一维度命中时不写入
func (s *Store) CheckAndStore(url, content, sourceName string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result Result
	contentHash := HashContent(content)

	if s.byURL {
		var exists int
		err := s.db.QueryRow(`SELECT COUNT(1) FROM crawl_history WHERE url = ?`, url).Scan(&exists)
		if err != nil {
			return result, &StorageError{Op: "查询", Err: err}
		}
		result.URLDuplicate = exists > 0
	}
	if s.byContent && !result.URLDuplicate {
		var exists int
		err := s.db.QueryRow(`SELECT COUNT(1) FROM crawl_history WHERE content_hash = ?`, contentHash).Scan(&exists)
		if err != nil {
			return result, &StorageError{Op: "查询", Err: err}
		}
		result.ContentDuplicate = exists > 0
	}
	if result.IsDuplicate() {
		return result, nil
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO crawl_history (url, content_hash, timestamp, source_name) VALUES (?, ?, ?, ?)`,
		url, contentHash, time.Now().UTC().Format(time.RFC3339), sourceName,
	)
	if err != nil {
		return result, &StorageError{Op: "写入", Err: err}
	}
	return result, nil
}

// HasURL 增量预过滤: URL是否已在历史中
func (s *Store) HasURL(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM crawl_history WHERE url = ?`, url).Scan(&exists)
	if err != nil {
		return false, &StorageError{Op: "查询", Err: err}
	}
	return exists > 0, nil
}

// Recent 返回最近的历史记录, 新者在前
func (s *Store) Recent(limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT url, timestamp FROM crawl_history ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &StorageError{Op: "查询", Err: err}
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.URL, &entry.Timestamp); err != nil {
			return nil, &StorageError{Op: "读取", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "读取", Err: err}
	}
	return entries, nil
}

// Count 历史记录总数
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM crawl_history`).Scan(&count); err != nil {
		return 0, &StorageError{Op: "查询", Err: err}
	}
	return count, nil
}

// Reset 清空历史: 删库重建
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "关闭", Err: err}
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "删除", Err: err}
	}
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return &StorageError{Op: "重建", Err: err}
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return &StorageError{Op: "重建", Err: err}
	}
	s.db = db
	return nil
}

// Close 关闭去重库
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
