package parser

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

func newTestParser() *Parser {
	return New(zerolog.Nop())
}

func mustRules(t *testing.T, selectors ...string) []config.ExtractRule {
	t.Helper()
	rules := make([]config.ExtractRule, 0, len(selectors))
	for _, sel := range selectors {
		rule, err := config.ParseExtractRule(sel)
		if err != nil {
			t.Fatalf("规则解析失败 %q: %v", sel, err)
		}
		rules = append(rules, rule)
	}
	return rules
}

// TestParseEntries 测试列表页链接提取
func TestParseEntries(t *testing.T) {
	html := `<html><body>
		<a class="news" href="/a/1">第一条</a>
		<a class="news" href="https://other.com/b">第二条</a>
		<a class="news" href="/a/1">重复链接</a>
		<a class="news" href="javascript:void(0)">脚本链接</a>
		<a class="news" href="#top">锚点</a>
		<a class="news">无链接</a>
	</body></html>`

	src := &config.SourceConfig{EntryPattern: "a.news"}
	entries := newTestParser().ParseEntries(src, html, "https://example.com/news")

	want := []string{"https://example.com/a/1", "https://other.com/b"}
	if len(entries) != len(want) {
		t.Fatalf("entries = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i], want[i])
		}
	}
}

// TestParseEntriesContainer 测试容器选择器时从子链接取href
func TestParseEntriesContainer(t *testing.T) {
	html := `<div class="item"><a href="/detail/9">标题</a></div>`
	src := &config.SourceConfig{EntryPattern: "div.item"}

	entries := newTestParser().ParseEntries(src, html, "https://example.com")
	if len(entries) != 1 || entries[0] != "https://example.com/detail/9" {
		t.Errorf("entries = %v", entries)
	}
}

// TestParseDetailFallback 测试字段规则回退与meta兜底
func TestParseDetailFallback(t *testing.T) {
	html := `<html><head>
		<title>页面标题</title>
		<meta property="og:description" content="meta描述内容">
	</head><body>
		<h1 class="missing"></h1>
		<h2 class="backup">  备用   标题  </h2>
		<img class="cover" src="/img/cover.png">
	</body></html>`

	src := &config.SourceConfig{
		SourceName: "demo",
		SiteType:   config.SiteTypeNews,
		DetailRules: map[string][]config.ExtractRule{
			"title":   mustRules(t, "h1.missing", "h2.backup"),
			"content": mustRules(t, "div.absent"),
			"cover":   mustRules(t, "img.cover::attr:src"),
		},
	}

	record := newTestParser().ParseDetail(src, html, "https://example.com/d/1")

	if got := record.Data["title"]; got != "备用 标题" {
		t.Errorf("title回退失败: %v", got)
	}
	if got := record.Data["content"]; got != "meta描述内容" {
		t.Errorf("content应回退meta描述: %v", got)
	}
	if got := record.Data["cover"]; got != "/img/cover.png" {
		t.Errorf("attr模式取值失败: %v", got)
	}
	if record.Data["source_name"] != "demo" || record.Data["url"] != "https://example.com/d/1" {
		t.Errorf("记录基础字段缺失: %+v", record.Data)
	}
	if _, ok := record.Data["raw_html"].(string); !ok {
		t.Error("raw_html应保留原始页面")
	}
}

// TestParseDetailTitleFromPageTitle 测试title最后回退<title>
func TestParseDetailTitleFromPageTitle(t *testing.T) {
	html := `<html><head><title>兜底标题</title></head><body></body></html>`
	src := &config.SourceConfig{
		SourceName:  "demo",
		DetailRules: map[string][]config.ExtractRule{"title": mustRules(t, "h1")},
	}

	record := newTestParser().ParseDetail(src, html, "https://example.com")
	if got := record.Data["title"]; got != "兜底标题" {
		t.Errorf("title = %v", got)
	}
}

// TestFilterByKeywords 测试关键词过滤
func TestFilterByKeywords(t *testing.T) {
	record := &ParsedRecord{Data: Record{
		"title":   "Bitcoin突破新高",
		"content": "市场情绪高涨",
	}}

	tests := []struct {
		name     string
		keywords []string
		want     bool
	}{
		{"无关键词放行", nil, true},
		{"命中标题", []string{"bitcoin"}, true},
		{"大小写不敏感", []string{"BITCOIN"}, true},
		{"命中正文", []string{"市场"}, true},
		{"任一命中即可", []string{"不存在", "情绪"}, true},
		{"全部未命中", []string{"ethereum", "黄金"}, false},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.FilterByKeywords(record, tt.keywords); got != tt.want {
				t.Errorf("FilterByKeywords(%v) = %v, want %v", tt.keywords, got, tt.want)
			}
		})
	}
}

// TestExtractTimelineRecords 测试时间线形态提取
func TestExtractTimelineRecords(t *testing.T) {
	html := `<html><body>
	<div class="el-timeline-item__wrapper">
		<div class="el-timeline-item__timestamp">2026-01-02 10:30</div>
		<a class="news_body_title" href="/news/1">重要快讯</a>
		<div class="news_body_content"><span>快讯正文内容</span></div>
	</div>
	<div class="el-timeline-item__wrapper">
		<a class="news_body_title" href="/news/2"></a>
		<div class="topic">话题标题</div>
		<div class="news_body_content"><span>第二条正文</span></div>
	</div>
	<div class="el-timeline-item__wrapper">
		<div>缺标题与正文, 应跳过</div>
	</div>
	</body></html>`

	records := newTestParser().ExtractTimelineRecords(html, "https://example.com")
	if len(records) != 2 {
		t.Fatalf("records数量 = %d, want 2", len(records))
	}

	first := records["https://example.com/news/1"]
	if first == nil {
		t.Fatal("缺少第一条记录")
	}
	if first["title"] != "重要快讯" || first["content"] != "快讯正文内容" {
		t.Errorf("第一条字段错误: %+v", first)
	}
	if first["published_at"] != "2026-01-02 10:30" {
		t.Errorf("published_at = %v", first["published_at"])
	}

	second := records["https://example.com/news/2"]
	if second == nil || second["title"] != "话题标题" {
		t.Errorf("标题应回退话题节点: %+v", second)
	}
}

// TestExtractInitDataRecords 测试内嵌JSON形态提取
func TestExtractInitDataRecords(t *testing.T) {
	html := `<html><body><script>window.__INIT__={"initData":{"pageResult":{"list":[
		{"id":123,"title":"链上快讯","description":"&lt;p&gt;正文&amp;内容&lt;/p&gt;","publishTimestamp":1767350400000},
		{"id":124,"title":"第二条","description":"","publishTimestamp":0}
	]},"other":{}}};</script></body></html>`

	records := newTestParser().ExtractInitDataRecords(html, "https://example.com")
	if len(records) != 2 {
		t.Fatalf("records数量 = %d, want 2", len(records))
	}

	record := records["https://example.com/zh-CN/newsflash/123"]
	if record == nil {
		t.Fatal("缺少id=123的记录")
	}
	if record["title"] != "链上快讯" {
		t.Errorf("title = %v", record["title"])
	}
	if record["content"] != "正文&内容" {
		t.Errorf("description应反转义并抽取文本: %v", record["content"])
	}
	published, _ := record["published_at"].(string)
	if !strings.HasPrefix(published, "2026-01-02T") {
		t.Errorf("毫秒时间戳转换错误: %v", published)
	}

	if _, ok := records["https://example.com/zh-CN/newsflash/124"]["published_at"]; ok {
		t.Error("publishTimestamp为0时不应生成published_at")
	}
}

// TestExtractInitDataMissing 测试无initData标记时返回空
func TestExtractInitDataMissing(t *testing.T) {
	if records := newTestParser().ExtractInitDataRecords("<html></html>", "https://example.com"); len(records) != 0 {
		t.Errorf("无标记应返回空, got %v", records)
	}
}

// TestExtractListRecords 测试通用列表形态提取
func TestExtractListRecords(t *testing.T) {
	html := `<html><body><ul>
	<li><a class="entry" href="/p/1">列表标题一</a><time>2026-08-01 09:00</time><p>摘要一</p></li>
	<li><a class="entry" href="/p/2">列表标题二</a></li>
	<li><a class="entry" href="#">锚点跳过</a></li>
	</ul></body></html>`

	src := &config.SourceConfig{EntryPattern: "a.entry"}
	records := newTestParser().ExtractListRecords(src, html, "https://example.com")

	if len(records) != 2 {
		t.Fatalf("records数量 = %d, want 2", len(records))
	}
	first := records["https://example.com/p/1"]
	if first == nil || first["title"] != "列表标题一" {
		t.Fatalf("第一条记录错误: %+v", first)
	}
	if first["published_at"] != "2026-08-01 09:00" {
		t.Errorf("published_at = %v", first["published_at"])
	}
	content, _ := first["content"].(string)
	if !strings.Contains(content, "摘要一") {
		t.Errorf("content应包含容器文本: %v", content)
	}
}
