package exporter

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

// FileExporter 文件导出器: jsonl / csv / txt
type FileExporter struct {
	path   string
	format string
	file   *os.File
	writer *bufio.Writer

	csvWriter *csv.Writer
	csvFields []string // 表头取首条记录的键排序, 后续记录按此对齐
	count     int
}

func newFileExporter(path, format string) (*FileExporter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("创建输出文件失败: %w", err)
	}
	e := &FileExporter{
		path:   path,
		format: format,
		file:   file,
		writer: bufio.NewWriter(file),
	}
	if format == config.FormatCSV {
		e.csvWriter = csv.NewWriter(e.writer)
	}
	return e, nil
}

// Export 写出一条记录
func (e *FileExporter) Export(record parser.Record) error {
	switch e.format {
	case config.FormatJSON:
		return e.exportJSON(record)
	case config.FormatCSV:
		return e.exportCSV(record)
	default:
		return e.exportTXT(record)
	}
}

func (e *FileExporter) exportJSON(record parser.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("记录序列化失败: %w", err)
	}
	if _, err := e.writer.Write(line); err != nil {
		return err
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return err
	}
	e.count++
	return nil
}

func (e *FileExporter) exportCSV(record parser.Record) error {
	if e.csvFields == nil {
		fields := make([]string, 0, len(record))
		for field := range record {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		e.csvFields = fields
		if err := e.csvWriter.Write(fields); err != nil {
			return err
		}
	}
	row := make([]string, len(e.csvFields))
	for i, field := range e.csvFields {
		row[i] = stringify(record[field])
	}
	if err := e.csvWriter.Write(row); err != nil {
		return err
	}
	e.count++
	return nil
}

func (e *FileExporter) exportTXT(record parser.Record) error {
	e.count++
	if _, err := fmt.Fprintf(e.writer, "[%d] %s\n", e.count, stringify(record["title"])); err != nil {
		return err
	}
	fields := make([]string, 0, len(record))
	for field := range record {
		if field == "title" || field == "raw_html" {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if _, err := fmt.Fprintf(e.writer, "    %s: %s\n", field, stringify(record[field])); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(e.writer)
	return err
}

// Flush 落盘
func (e *FileExporter) Flush() error {
	if e.csvWriter != nil {
		e.csvWriter.Flush()
		if err := e.csvWriter.Error(); err != nil {
			return err
		}
	}
	return e.writer.Flush()
}

// Close 落盘并关闭文件
func (e *FileExporter) Close() error {
	if err := e.Flush(); err != nil {
		e.file.Close()
		return err
	}
	return e.file.Close()
}

// Destination 输出文件路径
func (e *FileExporter) Destination() string {
	return e.path
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
