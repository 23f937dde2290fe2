package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestParseExtractRule 测试选择器DSL解析
func TestParseExtractRule(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ExtractRule
		wantErr bool
	}{
		{"纯选择器默认text模式", "h1.title", ExtractRule{Selector: "h1.title", Mode: ExtractText}, false},
		{"显式text模式", "div.body::text", ExtractRule{Selector: "div.body", Mode: ExtractText}, false},
		{"html模式", "article::html", ExtractRule{Selector: "article", Mode: ExtractHTML}, false},
		{"attr模式", "a.link::attr:href", ExtractRule{Selector: "a.link", Mode: ExtractAttr, Attr: "href"}, false},
		{"模式大小写不敏感", "span::HTML", ExtractRule{Selector: "span", Mode: ExtractHTML}, false},
		{"带空白的DSL", "  div.news :: text ", ExtractRule{Selector: "div.news", Mode: ExtractText}, false},
		{"空选择器报错", "::text", ExtractRule{}, true},
		{"未知模式报错", "div::xpath", ExtractRule{}, true},
		{"attr缺属性名报错", "a::attr:", ExtractRule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExtractRule(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseExtractRule(%q) error = %v, wantErr = %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSelector) {
					t.Errorf("错误应包装ErrInvalidSelector, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseExtractRule(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

// TestLoadSourceFile 测试信息源配置加载与缺省值
func TestLoadSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo_news.yaml")
	content := `source_name: demo_news
site_type: news
target_url: https://example.com/news
entry_pattern: "a.news-link"
detail_pattern:
  title:
    - "h1.title"
    - "h1"
  content: "div.article-body::text"
  cover: "img.cover::attr:src"
output_format: json
keywords_filter:
  - bitcoin
anti_scraping_strategies:
  user_agent_rotation: true
  delay_range: [0.5, 2.0]
  retry_on_fail: 2
enable_incremental: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := LoadSourceFile(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	if src.SourceName != "demo_news" {
		t.Errorf("source_name = %s", src.SourceName)
	}
	if src.CrawlDepth != 1 {
		t.Errorf("crawl_depth缺省值应为1, got %d", src.CrawlDepth)
	}
	if len(src.DetailRules["title"]) != 2 {
		t.Errorf("title应有2条回退规则, got %d", len(src.DetailRules["title"]))
	}
	cover := src.DetailRules["cover"]
	if len(cover) != 1 || cover[0].Mode != ExtractAttr || cover[0].Attr != "src" {
		t.Errorf("cover规则解析错误: %+v", cover)
	}
	if len(src.DetailFields) != 3 || src.DetailFields[0] != "title" || src.DetailFields[1] != "content" {
		t.Errorf("字段顺序应title、content优先: %v", src.DetailFields)
	}
	if src.AntiScraping.RetryOnFail != 2 {
		t.Errorf("retry_on_fail = %d", src.AntiScraping.RetryOnFail)
	}
	if !src.Deduplication.ByURL {
		t.Error("去重缺省应按URL")
	}
	if src.EntryInteractions.AutoMaxRounds != 20 || src.EntryInteractions.AutoStallRounds != 3 {
		t.Errorf("auto轮次缺省值错误: %+v", src.EntryInteractions)
	}
	if src.EntryInteractions.ItemSelector != "a.news-link" {
		t.Errorf("item_selector缺省应回退entry_pattern, got %s", src.EntryInteractions.ItemSelector)
	}
}

// TestSourceValidate 测试信息源配置校验
func TestSourceValidate(t *testing.T) {
	base := func() SourceConfig {
		return SourceConfig{
			SourceName: "demo",
			TargetURL:  "https://example.com",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*SourceConfig)
		wantErr bool
	}{
		{"合法配置", func(s *SourceConfig) {}, false},
		{"缺少source_name", func(s *SourceConfig) { s.SourceName = " " }, true},
		{"缺少target_url", func(s *SourceConfig) { s.TargetURL = "" }, true},
		{"target_url非法", func(s *SourceConfig) { s.TargetURL = "not-a-url" }, true},
		{"output_format不支持", func(s *SourceConfig) { s.OutputFormat = "xml" }, true},
		{"delay_range倒置", func(s *SourceConfig) { s.AntiScraping.DelayRange = []float64{3, 1} }, true},
		{"retry_on_fail为负", func(s *SourceConfig) { s.AntiScraping.RetryOnFail = -1 }, true},
		{"extra_headers含禁止头部", func(s *SourceConfig) {
			s.AntiScraping.ExtraHeaders = map[string]string{"Host": "evil.com"}
		}, true},
		{"extra_headers合法", func(s *SourceConfig) {
			s.AntiScraping.ExtraHeaders = map[string]string{"Referer": "https://example.com"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := base()
			tt.mutate(&src)
			err := src.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSource) {
				t.Errorf("错误应包装ErrInvalidSource, got %v", err)
			}
		})
	}
}

// TestRepositoryListSources 测试信息源目录枚举
func TestRepositoryListSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bbb.yaml", "aaa.yaml", "ccc.yml", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("source_name: x\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	repo := NewRepository(&GlobalConfig{SourcesDir: dir})
	names, err := repo.ListSources()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"aaa", "bbb", "ccc"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}
