package crawler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

// ErrInvalidWindow 时间窗边界非法
var ErrInvalidWindow = errors.New("时间窗结束必须晚于开始")

// CrawlWindow 抓取时间窗, 边界统一为UTC, 两端闭区间
type CrawlWindow struct {
	Start time.Time
	End   time.Time
}

// NewCrawlWindow 创建时间窗并归一化到UTC
func NewCrawlWindow(start, end time.Time) (*CrawlWindow, error) {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return nil, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return &CrawlWindow{Start: start, End: end}, nil
}

// Contains 判断时刻是否落在窗内, 边界含
func (w *CrawlWindow) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w *CrawlWindow) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// 时间戳字段探测顺序
var timestampFields = []string{
	"published_at",
	"published_at_utc",
	"publish_time",
	"publishTimestamp",
	"timestamp",
	"time",
	"fetched_at",
}

// 带年份的常见时间格式
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// 缺年份的格式, 解析后用回填年份补全
var yearlessLayouts = []string{
	"01-02 15:04",
	"01/02 15:04",
}

// recordTime 从记录中提取发布时刻
// 按固定字段顺序探测, 取到第一个可解析的值; 数值按epoch秒处理,
// 超过1e12视为毫秒; 均不可解析时返回false(调用方放行)
func recordTime(record parser.Record, fallbackYear int) (time.Time, bool) {
	for _, field := range timestampFields {
		value, ok := record[field]
		if !ok || value == nil {
			continue
		}
		if t, ok := coerceTime(value, fallbackYear); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func coerceTime(value interface{}, fallbackYear int) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), true
	case float64:
		return epochTime(v)
	case int:
		return epochTime(float64(v))
	case int64:
		return epochTime(float64(v))
	case string:
		return parseTimeString(v, fallbackYear)
	}
	return time.Time{}, false
}

func epochTime(v float64) (time.Time, bool) {
	if v <= 0 {
		return time.Time{}, false
	}
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Unix(int64(v), 0).UTC(), true
}

func parseTimeString(s string, fallbackYear int) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range yearlessLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			year := fallbackYear
			if year <= 0 {
				year = time.Now().UTC().Year()
			}
			return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
