package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// Record 一条抓取记录的字段集合
type Record map[string]interface{}

// ParsedRecord 解析后的详情记录
type ParsedRecord struct {
	URL  string
	Data Record
}

// Parser 按信息源模板解析列表页与详情页
type Parser struct {
	logger zerolog.Logger
}

// New 创建解析器
func New(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseEntries 从列表页提取详情链接, 保序去重
// 跳过javascript:与锚点链接, 相对路径按base_url补全
func (p *Parser) ParseEntries(src *config.SourceConfig, html, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn().Err(err).Msg("列表页解析失败")
		return nil
	}

	var entries []string
	seen := make(map[string]struct{})
	doc.Find(src.EntryPattern).Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			// 选择器命中的可能是条目容器而非链接本身
			href = strings.TrimSpace(sel.Find("a[href]").First().AttrOr("href", ""))
		}
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		full := ResolveURL(baseURL, href)
		if full == "" {
			return
		}
		if _, ok := seen[full]; !ok {
			seen[full] = struct{}{}
			entries = append(entries, full)
		}
	})
	return entries
}

// ParseDetail 按字段规则解析详情页
// 每个字段的规则列表按序回退, 取到非空值即停;
// title与content在规则全落空时再回退meta标签
func (p *Parser) ParseDetail(src *config.SourceConfig, html, pageURL string) *ParsedRecord {
	data := Record{
		"url":         pageURL,
		"source_name": src.SourceName,
		"site_type":   string(src.SiteType),
	}

	if len(src.DetailRules) > 0 {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			p.logger.Warn().Err(err).Str("url", pageURL).Msg("详情页解析失败")
		} else {
			for field, rules := range src.DetailRules {
				value := applyRules(doc, rules)
				if value == "" {
					value = metaFallback(doc, field)
				}
				if value != "" {
					data[field] = value
				} else {
					data[field] = nil
				}
			}
		}
	}

	data["raw_html"] = html
	return &ParsedRecord{URL: pageURL, Data: data}
}

// applyRules 依次尝试字段规则, 返回第一个非空值
func applyRules(doc *goquery.Document, rules []config.ExtractRule) string {
	for _, rule := range rules {
		sel := doc.Find(rule.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		var value string
		switch rule.Mode {
		case config.ExtractHTML:
			if h, err := goquery.OuterHtml(sel); err == nil {
				value = h
			}
		case config.ExtractAttr:
			value = sel.AttrOr(rule.Attr, "")
		default:
			value = CollapseText(sel.Text())
		}
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// metaFallback title/content字段的meta标签兜底
func metaFallback(doc *goquery.Document, field string) string {
	switch field {
	case "title":
		for _, sel := range []string{`meta[property="og:title"]`, `meta[name="title"]`} {
			if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
				return v
			}
		}
		return CollapseText(doc.Find("title").First().Text())
	case "content":
		for _, sel := range []string{`meta[property="og:description"]`, `meta[name="description"]`} {
			if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
				return v
			}
		}
	}
	return ""
}

// FilterByKeywords 关键词过滤: 关键词为空放行, 否则任一关键词
// 命中记录任一字段值即保留, 大小写不敏感
func (p *Parser) FilterByKeywords(record *ParsedRecord, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	var builder strings.Builder
	for _, value := range record.Data {
		if s, ok := value.(string); ok && s != "" {
			builder.WriteString(strings.ToLower(s))
			builder.WriteByte(' ')
		}
	}
	haystack := builder.String()
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// ResolveURL 相对链接补全, 解析失败返回空串
func ResolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// CollapseText 折叠连续空白为单个空格
func CollapseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
