package spider

import (
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// maxPages 单次发现最多访问的列表页数, 防止翻页链接成环
const maxPages = 50

// ListingSpider 列表页蜘蛛
// crawl_depth > 1 的信息源用它沿翻页链接扩展入口列表:
// 每个访问到的列表页上收集entry_pattern命中的详情链接,
// 并沿pagination_pattern继续向下翻depth-1层
type ListingSpider struct {
	src       *config.SourceConfig
	collector *colly.Collector
	logger    zerolog.Logger

	entries []string
	seen    map[string]struct{}
	pages   int
}

// New 创建列表页蜘蛛
func New(src *config.SourceConfig, headers map[string]string, timeout time.Duration, logger zerolog.Logger) *ListingSpider {
	s := &ListingSpider{
		src:    src,
		logger: logger,
		seen:   make(map[string]struct{}),
	}

	c := colly.NewCollector(
		colly.MaxDepth(src.CrawlDepth),
	)
	c.SetRequestTimeout(timeout)

	host := src.TargetHost()
	c.OnRequest(func(r *colly.Request) {
		// 只在目标站点内翻页
		if r.URL.Hostname() != host {
			r.Abort()
			return
		}
		s.pages++
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})

	// 详情链接收集
	c.OnHTML(src.EntryPattern, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			href = strings.TrimSpace(e.ChildAttr("a[href]", "href"))
		}
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		full := e.Request.AbsoluteURL(href)
		if full == "" {
			return
		}
		if _, ok := s.seen[full]; !ok {
			s.seen[full] = struct{}{}
			s.entries = append(s.entries, full)
		}
	})

	// 翻页
	c.OnHTML(src.PaginationPattern, func(e *colly.HTMLElement) {
		if s.pages >= maxPages {
			return
		}
		next := e.Request.AbsoluteURL(e.Attr("href"))
		if next == "" {
			return
		}
		if err := e.Request.Visit(next); err != nil {
			s.logger.Debug().Err(err).Str("url", next).Msg("翻页跳过")
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		s.logger.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("列表页访问失败")
	})

	s.collector = c
	return s
}

// Discover 从入口URL出发发现详情链接, 保序去重
func (s *ListingSpider) Discover(entryURL string) ([]string, error) {
	s.entries = nil
	s.seen = make(map[string]struct{})
	s.pages = 0

	if err := s.collector.Visit(entryURL); err != nil {
		return nil, err
	}
	s.collector.Wait()

	s.logger.Info().
		Int("pages", s.pages).
		Int("entries", len(s.entries)).
		Msg("列表页发现完成")
	return s.entries, nil
}
