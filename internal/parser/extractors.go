package parser

import (
	"encoding/json"
	"fmt"
	stdhtml "html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// 入口页全量记录提取器
//
// 部分站点的列表页本身就携带完整的标题/正文/时间, 不必逐条抓详情。
// 这里按页面形态提供三种提取器, 由调度方按站点选择:
// 时间线形态、内嵌initData JSON形态、通用列表形态。

// ExtractTimelineRecords 时间线形态列表页, 条目为带时间戳的卡片
func (p *Parser) ExtractTimelineRecords(html, baseURL string) map[string]Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	items := doc.Find("div.el-timeline-item__wrapper")
	if items.Length() == 0 {
		items = doc.Find("div.list_body")
	}

	records := make(map[string]Record)
	items.Each(func(_ int, item *goquery.Selection) {
		titleNode := item.Find("a.news_body_title").First()
		contentNode := item.Find("div.news_body_content span").First()
		if contentNode.Length() == 0 {
			contentNode = item.Find("div.detail-body").First()
		}
		if titleNode.Length() == 0 || contentNode.Length() == 0 {
			return
		}
		href := titleNode.AttrOr("href", "")
		fullURL := ResolveURL(baseURL, href)
		if fullURL == "" {
			return
		}

		title := CollapseText(titleNode.Text())
		if title == "" {
			title = CollapseText(item.Find("div.topic").First().Text())
		}
		rawHTML, _ := goquery.OuterHtml(item)

		record := Record{
			"title":    title,
			"content":  CollapseText(contentNode.Text()),
			"raw_html": rawHTML,
		}
		timeNode := item.Find("div.el-timeline-item__timestamp").First()
		if timeNode.Length() == 0 {
			timeNode = item.Find("span.topic-time").First()
		}
		if timeNode.Length() > 0 {
			record["published_at"] = CollapseText(timeNode.Text())
		}
		records[fullURL] = record
	})
	return records
}

// initDataPayload 内嵌JSON形态列表页的数据结构
type initDataPayload struct {
	PageResult struct {
		List []initDataItem `json:"list"`
	} `json:"pageResult"`
}

type initDataItem struct {
	ID               json.Number `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	PublishTimestamp json.Number `json:"publishTimestamp"`
}

// ExtractInitDataRecords 内嵌initData JSON形态列表页
// 从脚本中按花括号配平截取JSON, 条目链接按 /zh-CN/newsflash/{id} 拼接
func (p *Parser) ExtractInitDataRecords(html, baseURL string) map[string]Record {
	const marker = `initData":`
	idx := strings.Index(html, marker)
	if idx < 0 {
		return nil
	}
	start := strings.Index(html[idx:], "{")
	if start < 0 {
		return nil
	}
	start += idx

	depth := 0
	end := -1
	for pos := start; pos < len(html); pos++ {
		switch html[pos] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = pos + 1
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil
	}

	var payload initDataPayload
	decoder := json.NewDecoder(strings.NewReader(html[start:end]))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		p.logger.Debug().Err(err).Msg("initData JSON解析失败")
		return nil
	}

	records := make(map[string]Record)
	for _, item := range payload.PageResult.List {
		if item.ID.String() == "" {
			continue
		}
		recordURL := ResolveURL(baseURL, fmt.Sprintf("/zh-CN/newsflash/%s", item.ID.String()))
		if recordURL == "" {
			continue
		}

		descriptionHTML := stdhtml.UnescapeString(item.Description)
		content := ""
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(descriptionHTML)); err == nil {
			content = CollapseText(doc.Text())
		}

		record := Record{
			"title":    item.Title,
			"content":  content,
			"raw_html": descriptionHTML,
		}
		if ms, err := item.PublishTimestamp.Int64(); err == nil && ms > 0 {
			record["published_at"] = time.UnixMilli(ms).UTC().Format(time.RFC3339)
		}
		records[recordURL] = record
	}
	return records
}

// ExtractListRecords 通用列表形态: 以entry_pattern命中的链接为锚,
// 标题取链接文本, 正文取条目容器文本, 时间取容器内time元素
func (p *Parser) ExtractListRecords(src *config.SourceConfig, html, baseURL string) map[string]Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	records := make(map[string]Record)
	doc.Find(src.EntryPattern).Each(func(_ int, sel *goquery.Selection) {
		link := sel
		if !sel.Is("a") {
			link = sel.Find("a[href]").First()
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		fullURL := ResolveURL(baseURL, href)
		if fullURL == "" {
			return
		}

		container := sel.Closest("li, article, div")
		if container.Length() == 0 {
			container = sel
		}
		title := CollapseText(link.Text())
		if title == "" {
			title = CollapseText(container.Find("h1, h2, h3").First().Text())
		}
		if title == "" {
			return
		}
		rawHTML, _ := goquery.OuterHtml(container)

		record := Record{
			"title":    title,
			"content":  CollapseText(container.Text()),
			"raw_html": rawHTML,
		}
		if t := CollapseText(container.Find("time").First().Text()); t != "" {
			record["published_at"] = t
		} else if dt := container.Find("time[datetime]").First().AttrOr("datetime", ""); dt != "" {
			record["published_at"] = dt
		}
		if _, ok := records[fullURL]; !ok {
			records[fullURL] = record
		}
	})
	return records
}
