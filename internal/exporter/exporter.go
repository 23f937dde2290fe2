package exporter

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

// Exporter 记录导出器
// Export并发安全由调用方的导出锁保证, 实现本身不加锁
type Exporter interface {
	Export(record parser.Record) error
	Flush() error
	Close() error
	Destination() string
}

// RunTag 本轮运行的输出标签, 用于文件名区分
func RunTag() string {
	return time.Now().Format("20060102_150405")
}

// New 按信息源输出格式创建导出器
func New(src *config.SourceConfig, global *config.GlobalConfig, runTag string, logger zerolog.Logger) (Exporter, error) {
	switch src.OutputFormat {
	case config.FormatJSON, config.FormatCSV, config.FormatTXT:
		if err := os.MkdirAll(global.OutputsDir, 0755); err != nil {
			return nil, fmt.Errorf("创建输出目录失败: %w", err)
		}
		path := filepath.Join(global.OutputsDir,
			fmt.Sprintf("%s_%s.%s", src.SourceName, runTag, fileExtension(src.OutputFormat)))
		return newFileExporter(path, src.OutputFormat)
	case config.FormatSQLite:
		if err := os.MkdirAll(global.OutputsDir, 0755); err != nil {
			return nil, fmt.Errorf("创建输出目录失败: %w", err)
		}
		path := filepath.Join(global.OutputsDir, src.SourceName+".sqlite3")
		return newSQLiteExporter(path)
	case config.FormatMongoDB:
		collection := global.Mongo.Collection
		if collection == "" {
			collection = src.SourceName
		}
		return newMongoExporter(global.Mongo.URI, global.Mongo.Database, collection, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", src.OutputFormat)
	}
}

func fileExtension(format string) string {
	switch format {
	case config.FormatJSON:
		return "jsonl"
	case config.FormatCSV:
		return "csv"
	default:
		return "txt"
	}
}
