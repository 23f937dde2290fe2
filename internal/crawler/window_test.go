package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

// TestNewCrawlWindow 测试时间窗构造与UTC归一化
func TestNewCrawlWindow(t *testing.T) {
	cst := time.FixedZone("CST", 8*3600)
	start := time.Date(2026, 8, 1, 8, 0, 0, 0, cst)
	end := time.Date(2026, 8, 2, 8, 0, 0, 0, cst)

	w, err := NewCrawlWindow(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if w.Start.Location() != time.UTC || w.Start.Hour() != 0 {
		t.Errorf("start应归一化为UTC零点: %v", w.Start)
	}

	if _, err := NewCrawlWindow(end, start); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("end早于start应报ErrInvalidWindow, got %v", err)
	}
	if _, err := NewCrawlWindow(start, start); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("end等于start应报ErrInvalidWindow, got %v", err)
	}
}

// TestWindowContains 测试闭区间判定
func TestWindowContains(t *testing.T) {
	w, err := NewCrawlWindow(
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"起点含", w.Start, true},
		{"终点含", w.End, true},
		{"窗内", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), true},
		{"窗前", time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC), false},
		{"窗后", time.Date(2026, 8, 2, 0, 0, 1, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

// TestRecordTime 测试时间戳提取与类型强转
func TestRecordTime(t *testing.T) {
	tests := []struct {
		name   string
		record parser.Record
		want   time.Time
		wantOK bool
	}{
		{
			"RFC3339字符串",
			parser.Record{"published_at": "2026-08-01T10:30:00Z"},
			time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), true,
		},
		{
			"常见日期时间格式",
			parser.Record{"published_at": "2026/08/01 10:30"},
			time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), true,
		},
		{
			"纯日期",
			parser.Record{"publish_time": "2026-08-01"},
			time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), true,
		},
		{
			"秒级epoch",
			parser.Record{"timestamp": float64(1767312000)},
			time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), true,
		},
		{
			"毫秒epoch自动识别",
			parser.Record{"publishTimestamp": float64(1767312000000)},
			time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), true,
		},
		{
			"缺年份回填窗口起始年",
			parser.Record{"published_at": "08-01 10:30"},
			time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), true,
		},
		{
			"字段顺序published_at优先",
			parser.Record{
				"fetched_at":   "2026-12-31T00:00:00Z",
				"published_at": "2026-08-01T00:00:00Z",
			},
			time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), true,
		},
		{
			"首字段无法解析时落到下一字段",
			parser.Record{
				"published_at": "昨天",
				"publish_time": "2026-08-01",
			},
			time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), true,
		},
		{"无任何时间字段", parser.Record{"title": "x"}, time.Time{}, false},
		{"全部不可解析", parser.Record{"published_at": "刚刚"}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := recordTime(tt.record, 2026)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("recordTime = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestValidateRecord 测试记录校验
func TestValidateRecord(t *testing.T) {
	longContent := ""
	for i := 0; i < 50; i++ {
		longContent += "字"
	}

	tests := []struct {
		name   string
		record parser.Record
		strict bool
		want   bool
	}{
		{"标题在且正文够长", parser.Record{"title": "标题", "content": longContent}, true, true},
		{"标题为空", parser.Record{"title": "  ", "content": longContent}, true, false},
		{"标题缺失", parser.Record{"content": longContent}, true, false},
		{"严格模式正文过短", parser.Record{"title": "标题", "content": "太短"}, true, false},
		{"宽松模式正文可短", parser.Record{"title": "标题", "content": "短"}, false, true},
		{"宽松模式正文可缺", parser.Record{"title": "标题"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := validateRecord(tt.record, tt.strict)
			if got != tt.want {
				t.Errorf("validateRecord(strict=%v) = %v, want %v", tt.strict, got, tt.want)
			}
		})
	}
}

// TestEnrichRecord 测试字段补全与摘要截断
func TestEnrichRecord(t *testing.T) {
	long := make([]rune, 0, 300)
	for i := 0; i < 300; i++ {
		long = append(long, '字')
	}
	record := parser.Record{"title": "标题", "content": string(long)}

	src := testSourceConfig("demo", "https://example.com")
	enrichRecord(record, "https://example.com/d/1", src)

	if record["id"] == nil || record["id"] == "" {
		t.Error("应生成记录ID")
	}
	if record["url"] != "https://example.com/d/1" || record["source_name"] != "demo" {
		t.Errorf("公共字段错误: %+v", record)
	}
	if record["fetched_at"] == nil {
		t.Error("应补fetched_at")
	}
	summary, _ := record["summary"].(string)
	if len([]rune(summary)) != 241 {
		t.Errorf("摘要应截断到240字+省略号, got %d", len([]rune(summary)))
	}
}
