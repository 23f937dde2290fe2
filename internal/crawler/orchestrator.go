package crawler

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/antibot"
	"github.com/RecoveryAshes/intellicrawl/internal/config"
	"github.com/RecoveryAshes/intellicrawl/internal/dedup"
	"github.com/RecoveryAshes/intellicrawl/internal/exporter"
	"github.com/RecoveryAshes/intellicrawl/internal/fetcher"
	"github.com/RecoveryAshes/intellicrawl/internal/parser"
	"github.com/RecoveryAshes/intellicrawl/internal/progress"
	"github.com/RecoveryAshes/intellicrawl/internal/spider"
	"github.com/RecoveryAshes/intellicrawl/internal/utils"
)

// 严格校验时正文最短字数
const minContentRunes = 40

// Summary 单个信息源一轮抓取的结果统计
// Skipped包含增量过滤/关键词未命中/重复/时间窗外;
// WindowFiltered单独计数, 是Skipped的子集
type Summary struct {
	Success        int
	Failed         int
	Skipped        int
	WindowFiltered int
}

// Total 任务总数
func (s *Summary) Total() int {
	return s.Success + s.Failed + s.Skipped
}

// RunOptions 单轮运行选项
type RunOptions struct {
	Window       *CrawlWindow
	ShowProgress bool
}

// Orchestrator 抓取调度器: 装配各组件完成单源与批量抓取
type Orchestrator struct {
	repo    *config.Repository
	global  *config.GlobalConfig
	pools   *WorkerPoolManager
	proxies *antibot.ProxyPool
	agents  *antibot.UserAgentPool
	logger  zerolog.Logger
}

// New 创建调度器
func New(repo *config.Repository) *Orchestrator {
	global := repo.Global()
	logger := utils.Named("orchestrator")

	var proxies *antibot.ProxyPool
	if global.ProxyPool.File != "" {
		pool, err := antibot.NewProxyPoolFromFile(global.ProxyPool.File)
		if err != nil {
			logger.Warn().Err(err).Str("file", global.ProxyPool.File).Msg("代理文件加载失败,改用配置内代理列表")
		} else {
			proxies = pool
		}
	}
	if proxies == nil {
		proxies = antibot.NewProxyPool(global.ProxyPool.Proxies)
	}

	return &Orchestrator{
		repo:    repo,
		global:  global,
		pools:   NewWorkerPoolManager(),
		proxies: proxies,
		agents:  antibot.NewUserAgentPool(global.UserAgents, time.Now().UnixNano()),
		logger:  logger,
	}
}

// RunSource 按名字跑一个信息源
func (o *Orchestrator) RunSource(name string, opts RunOptions) (*Summary, error) {
	src, err := o.repo.LoadSource(name)
	if err != nil {
		return &Summary{}, err
	}
	return o.runSource(src, opts)
}

// runEnv 单轮运行内各任务共享的组件
// exportMu只护本轮的导出器, 各信息源互不阻塞
type runEnv struct {
	src        *config.SourceConfig
	fetch      *fetcher.Fetcher
	parser     *parser.Parser
	store      *dedup.Store
	exp        exporter.Exporter
	exportMu   sync.Mutex
	window     *CrawlWindow
	logger     zerolog.Logger
	prefetched map[string]parser.Record
}

// taskOutcome 单条详情任务的结局
type taskOutcome struct {
	url            string
	outcome        progress.Outcome
	windowFiltered bool
	reason         string
	fatal          error
}

func (o *Orchestrator) runSource(src *config.SourceConfig, opts RunOptions) (*Summary, error) {
	logger := utils.ForSource(src.SourceName)
	summary := &Summary{}
	logger.Info().Msgf("🚀 开始抓取信息源: %s", src.SourceName)

	store, err := dedup.Open(
		src.HistoryPath(o.global.HistoryDir),
		src.Deduplication.ByURL,
		src.Deduplication.ByContent,
	)
	if err != nil {
		return summary, err
	}

	fetch := fetcher.New(o.global, o.proxies, o.agents, logger)
	runTag := exporter.RunTag()
	exp, err := exporter.New(src, o.global, runTag, logger)
	if err != nil {
		fetch.Close()
		store.Close()
		return summary, err
	}
	reporter := progress.NewReporter(src.SourceName, opts.ShowProgress)

	// 收尾顺序固定: 进度条, 导出器落盘关闭, 浏览器会话, 去重库
	defer func() {
		reporter.Close()
		if err := exp.Flush(); err != nil {
			logger.Warn().Err(err).Msg("导出器落盘失败")
		}
		if err := exp.Close(); err != nil {
			logger.Warn().Err(err).Msg("导出器关闭失败")
		}
		fetch.Close()
		store.Close()
	}()

	env := &runEnv{
		src:    src,
		fetch:  fetch,
		parser: parser.New(logger),
		store:  store,
		exp:    exp,
		window: opts.Window,
		logger: logger,
	}

	// 入口页
	entryResp, err := fetch.Fetch(src, fetcher.Request{
		URL:           src.TargetURL,
		Interactions:  src.EntryInteractions,
		WithSnapshots: src.UseEntryContent,
	})
	if err != nil {
		return summary, fmt.Errorf("入口页抓取失败: %w", err)
	}
	if entryResp.StatusCode >= 400 {
		return summary, fmt.Errorf("入口页状态码%d: %s", entryResp.StatusCode, src.TargetURL)
	}

	entries := env.parser.ParseEntries(src, entryResp.Text, entryResp.URL)

	// 多层列表页
	if src.CrawlDepth > 1 {
		sp := spider.New(src, map[string]string{"User-Agent": o.agents.Pick()}, 20*time.Second, logger)
		more, err := sp.Discover(src.TargetURL)
		if err != nil {
			logger.Warn().Err(err).Msg("列表页发现失败,仅用入口页链接")
		} else {
			entries = mergeEntries(entries, more)
		}
	}

	// 入口页全量记录
	if src.UseEntryContent {
		env.prefetched = o.extractPrefetched(env.parser, src, entryResp)
		var extra []string
		for recordURL := range env.prefetched {
			extra = append(extra, recordURL)
		}
		entries = mergeEntries(entries, extra)
	}

	if len(entries) == 0 {
		logger.Warn().Msg("入口页未解析出详情链接,回退抓取入口页自身")
		entries = []string{src.TargetURL}
	}
	logger.Info().Msgf("📋 待处理详情页: %d条", len(entries))

	// 增量过滤
	tasks := entries
	if src.EnableIncremental {
		tasks = make([]string, 0, len(entries))
		for _, entryURL := range entries {
			exists, err := store.HasURL(entryURL)
			if err != nil {
				return summary, err
			}
			if exists {
				summary.Skipped++
				continue
			}
			tasks = append(tasks, entryURL)
		}
		if skipped := len(entries) - len(tasks); skipped > 0 {
			logger.Info().Msgf("⏭ 增量过滤跳过%d条已抓取链接", skipped)
		}
	}

	pool := o.pools.Get(src.SourceName, detailWorkers(src, o.global.WorkerCount))
	reporter.Start(len(tasks))

	results := make(chan taskOutcome, len(tasks))
	for _, taskURL := range tasks {
		taskURL := taskURL
		pool.Submit(func(workerID int) {
			results <- o.processDetail(env, taskURL, workerID)
		})
	}

	var fatal error
	for i := 0; i < len(tasks); i++ {
		out := <-results
		switch out.outcome {
		case progress.OutcomeSuccess:
			summary.Success++
		case progress.OutcomeFailed:
			summary.Failed++
			logger.Warn().Str("url", out.url).Str("reason", out.reason).Msg("详情任务失败")
		default:
			summary.Skipped++
			if out.windowFiltered {
				summary.WindowFiltered++
			}
		}
		if out.fatal != nil && fatal == nil {
			fatal = out.fatal
		}
		reporter.Advance(out.outcome, out.url)
	}

	logger.Info().Msgf("✅ 信息源%s完成: 成功%d 失败%d 跳过%d (窗外%d) -> %s",
		src.SourceName, summary.Success, summary.Failed, summary.Skipped,
		summary.WindowFiltered, exp.Destination())

	if fatal != nil {
		return summary, fatal
	}
	return summary, nil
}

// extractPrefetched 从入口页payload提取全量记录
// 按站点形态分流: 时间线 / 内嵌initData JSON / 通用列表;
// auto交互的条目快照作为兜底补充
func (o *Orchestrator) extractPrefetched(p *parser.Parser, src *config.SourceConfig, resp *fetcher.Response) map[string]parser.Record {
	host := src.TargetHost()
	var records map[string]parser.Record
	switch {
	case strings.Contains(host, "foresightnews"):
		records = p.ExtractTimelineRecords(resp.Text, resp.URL)
	case strings.Contains(host, "odaily"):
		records = p.ExtractInitDataRecords(resp.Text, resp.URL)
	default:
		records = p.ExtractListRecords(src, resp.Text, resp.URL)
	}
	if records == nil {
		records = make(map[string]parser.Record)
	}
	for _, fragment := range resp.Snapshots {
		for fragURL, record := range p.ExtractListRecords(src, fragment, resp.URL) {
			if _, ok := records[fragURL]; !ok {
				records[fragURL] = record
			}
		}
	}
	return records
}

// 详情抓取失败类别
const (
	failNone = iota
	failFetch
	failStatus
	failInvalid
)

// processDetail 处理单个详情链接: 取记录 -> 关键词 -> 时间窗 ->
// 补全字段 -> 去重 -> 导出
func (o *Orchestrator) processDetail(env *runEnv, taskURL string, workerID int) taskOutcome {
	out := taskOutcome{url: taskURL, outcome: progress.OutcomeFailed}

	var data parser.Record
	if pre, ok := env.prefetched[taskURL]; ok {
		// 入口页自带记录只做宽松校验, 标题在即可用
		if valid, _ := validateRecord(pre, false); valid {
			data = make(parser.Record, len(pre)+3)
			for k, v := range pre {
				data[k] = v
			}
		}
	}

	if data == nil {
		fetched, kind, reason := o.fetchAndParse(env, taskURL, workerID, false)
		if kind == failInvalid && o.global.BrowserFallback && !env.src.AntiScraping.UseHeadlessBrowser {
			// 静态抓取内容不完整, 换浏览器渲染再试一次
			env.logger.Debug().Str("url", taskURL).Msg("校验未过,浏览器兜底重抓")
			fetched, kind, reason = o.fetchAndParse(env, taskURL, workerID, true)
		}
		if kind != failNone {
			out.reason = reason
			return out
		}
		data = fetched
	}

	if !env.parser.FilterByKeywords(&parser.ParsedRecord{URL: taskURL, Data: data}, env.src.KeywordsFilter) {
		out.outcome = progress.OutcomeSkipped
		out.reason = "关键词未命中"
		return out
	}

	if env.window != nil {
		if t, ok := recordTime(data, env.window.Start.Year()); ok && !env.window.Contains(t) {
			out.outcome = progress.OutcomeSkipped
			out.windowFiltered = true
			out.reason = "时间窗外"
			return out
		}
	}

	enrichRecord(data, taskURL, env.src)

	dup, err := env.store.CheckAndStore(taskURL, contentSeed(data), env.src.SourceName)
	if err != nil {
		out.reason = err.Error()
		out.fatal = err
		return out
	}
	if dup.IsDuplicate() {
		out.outcome = progress.OutcomeSkipped
		out.reason = "重复记录"
		return out
	}

	env.exportMu.Lock()
	err = env.exp.Export(data)
	env.exportMu.Unlock()
	if err != nil {
		out.reason = fmt.Sprintf("导出失败: %v", err)
		return out
	}

	out.outcome = progress.OutcomeSuccess
	return out
}

// fetchAndParse 抓取详情页并严格校验
func (o *Orchestrator) fetchAndParse(env *runEnv, taskURL string, workerID int, forceBrowser bool) (parser.Record, int, string) {
	resp, err := env.fetch.Fetch(env.src, fetcher.Request{
		URL:          taskURL,
		WorkerID:     workerID,
		ForceBrowser: forceBrowser,
	})
	if err != nil {
		return nil, failFetch, err.Error()
	}
	if resp.StatusCode >= 400 {
		return nil, failStatus, fmt.Sprintf("状态码%d", resp.StatusCode)
	}

	parsed := env.parser.ParseDetail(env.src, resp.Text, resp.URL)
	if valid, reason := validateRecord(parsed.Data, true); !valid {
		return nil, failInvalid, reason
	}
	return parsed.Data, failNone, ""
}

// detailWorkers 详情任务并发度: 浏览器源串行, 会话独占
func detailWorkers(src *config.SourceConfig, defaultWorkers int) int {
	if src.AntiScraping.UseHeadlessBrowser {
		return 1
	}
	if defaultWorkers < 1 {
		return 1
	}
	return defaultWorkers
}

// contentSeed 内容查重的哈希种子, 正文为空时退回原始HTML
func contentSeed(data parser.Record) string {
	if content, _ := data["content"].(string); content != "" {
		return content
	}
	raw, _ := data["raw_html"].(string)
	return raw
}

// validateRecord 记录校验: 标题必须在, 严格模式下正文不少于40字
func validateRecord(data parser.Record, strict bool) (bool, string) {
	title, _ := data["title"].(string)
	if strings.TrimSpace(title) == "" {
		return false, "标题为空"
	}
	if strict {
		content, _ := data["content"].(string)
		if utf8.RuneCountInString(strings.TrimSpace(content)) < minContentRunes {
			return false, "正文过短"
		}
	}
	return true, ""
}

// enrichRecord 补全记录公共字段
func enrichRecord(data parser.Record, recordURL string, src *config.SourceConfig) {
	if _, ok := data["id"]; !ok {
		data["id"] = uuid.New().String()
	}
	data["url"] = recordURL
	data["source_name"] = src.SourceName
	data["site_type"] = string(src.SiteType)
	if _, ok := data["fetched_at"]; !ok {
		data["fetched_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if content, ok := data["content"].(string); ok && content != "" {
		data["summary"] = truncateRunes(content, 240)
	}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}

// mergeEntries 合并链接列表, 保序去重
func mergeEntries(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, u := range list {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			merged = append(merged, u)
		}
	}
	return merged
}

// ViewHistory 查看信息源抓取历史, 新者在前
func (o *Orchestrator) ViewHistory(name string, limit int) ([]dedup.HistoryEntry, error) {
	src, err := o.repo.LoadSource(name)
	if err != nil {
		return nil, err
	}
	store, err := dedup.Open(src.HistoryPath(o.global.HistoryDir),
		src.Deduplication.ByURL, src.Deduplication.ByContent)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Recent(limit)
}

// ResetHistory 清空信息源抓取历史
func (o *Orchestrator) ResetHistory(name string) error {
	src, err := o.repo.LoadSource(name)
	if err != nil {
		return err
	}
	store, err := dedup.Open(src.HistoryPath(o.global.HistoryDir),
		src.Deduplication.ByURL, src.Deduplication.ByContent)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Reset(); err != nil {
		return err
	}
	o.logger.Info().Msgf("🧹 已清空信息源%s的抓取历史", name)
	return nil
}

// Close 释放任务池
func (o *Orchestrator) Close() {
	o.pools.Shutdown()
}
