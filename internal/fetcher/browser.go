package fetcher

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

// ErrBrowserCrashed 浏览器进程崩溃或协议层异常
var ErrBrowserCrashed = errors.New("浏览器会话崩溃")

// 基础反检测脚本, use_stealth_js开启时注入每个新文档
const stealthJS = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['zh-CN', 'zh', 'en'] });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
	window.chrome = window.chrome || { runtime: {} };
}`

// BrowserOptions 浏览器会话参数
type BrowserOptions struct {
	UserAgent      string
	Headless       bool
	UseStealth     bool
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
}

// browserOptionsFrom 由信息源配置推导会话参数
// randomize_viewport开启时在基准尺寸上做小幅抖动
func browserOptionsFrom(src *config.SourceConfig, userAgent string) BrowserOptions {
	cfg := src.AntiScraping
	width, height := cfg.ViewportWidth, cfg.ViewportHeight
	if width <= 0 {
		width = 1366
	}
	if height <= 0 {
		height = 768
	}
	if cfg.RandomizeViewport {
		width += rand.Intn(200) - 100
		height += rand.Intn(120) - 60
	}
	return BrowserOptions{
		UserAgent:      userAgent,
		Headless:       cfg.Headless(),
		UseStealth:     cfg.UseStealthJS,
		ViewportWidth:  width,
		ViewportHeight: height,
		Locale:         cfg.Locale,
		TimezoneID:     cfg.TimezoneID,
	}
}

// BrowserSession 单个工作者独占的浏览器会话
// 首次抓取时惰性启动, 页面跨请求复用, 所有操作持会话锁
type BrowserSession struct {
	mu      sync.Mutex
	opts    BrowserOptions
	logger  zerolog.Logger
	control *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func newBrowserSession(opts BrowserOptions, logger zerolog.Logger) *BrowserSession {
	return &BrowserSession{opts: opts, logger: logger}
}

// ensureStarted 惰性启动浏览器并准备页面, 需持锁调用
func (s *BrowserSession) ensureStarted() error {
	if s.page != nil {
		return nil
	}

	control := launcher.New().
		Headless(s.opts.Headless).
		Set("ignore-certificate-errors").
		Set("disable-blink-features", "AutomationControlled").
		Set("no-sandbox")
	controlURL, err := control.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		control.Cleanup()
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		control.Cleanup()
		return fmt.Errorf("创建页面失败: %w", err)
	}

	if s.opts.UserAgent != "" {
		override := proto.NetworkSetUserAgentOverride{UserAgent: s.opts.UserAgent}
		if s.opts.Locale != "" {
			override.AcceptLanguage = s.opts.Locale
		}
		if err := override.Call(page); err != nil {
			s.logger.Warn().Err(err).Msg("设置UA失败")
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.opts.ViewportWidth,
		Height:            s.opts.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("设置视口失败")
	}
	if s.opts.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: s.opts.TimezoneID}).Call(page); err != nil {
			s.logger.Warn().Err(err).Msg("设置时区失败")
		}
	}
	if s.opts.UseStealth {
		if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
			s.logger.Warn().Err(err).Msg("注入反检测脚本失败")
		}
	}

	s.control = control
	s.browser = browser
	s.page = page
	s.logger.Debug().Bool("headless", s.opts.Headless).Msg("浏览器会话已启动")
	return nil
}

// Fetch 浏览器抓取: 导航, 等待加载, 执行交互, 返回渲染后HTML
func (s *BrowserSession) Fetch(req Request, headers map[string]string, timeout time.Duration) (resp *Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("url", req.URL).Msg("浏览器抓取异常")
			s.teardown()
			resp = nil
			err = fmt.Errorf("%w: %v", ErrBrowserCrashed, r)
		}
	}()

	if err := s.ensureStarted(); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	page := s.page.Timeout(timeout)

	if cleanup, err := page.SetExtraHeaders(headerPairs(headers)); err == nil {
		defer cleanup()
	}

	// 只认主文档响应, 子资源的状态码不作数
	var documentEvent *proto.NetworkResponseReceived
	waitResponse := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		documentEvent = e
		return true
	})

	if err := page.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("导航失败 %s: %w", req.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		s.logger.Debug().Err(err).Str("url", req.URL).Msg("等待加载超时,继续读取已渲染内容")
	}
	waitResponse()

	snapshots, err := s.runInteractions(page, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", req.URL).Msg("页面交互部分失败")
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("读取页面HTML失败: %w", err)
	}

	status := 200
	respHeaders := make(map[string]string)
	if documentEvent != nil && documentEvent.Response != nil {
		status = documentEvent.Response.Status
		for key, value := range documentEvent.Response.Headers {
			respHeaders[key] = value.Str()
		}
	}
	finalURL := req.URL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &Response{
		URL:        finalURL,
		StatusCode: status,
		Text:       html,
		Headers:    respHeaders,
		Snapshots:  snapshots,
	}, nil
}

// runInteractions 执行入口页交互: 等待选择器, 滚动, 点击加载更多,
// 或auto模式自动加载; 返回条目快照
func (s *BrowserSession) runInteractions(page *rod.Page, req Request) (map[string]string, error) {
	inter := req.Interactions

	if inter.WaitSelector != "" {
		if _, err := page.Timeout(10 * time.Second).Element(inter.WaitSelector); err != nil {
			return nil, fmt.Errorf("等待选择器%s超时: %w", inter.WaitSelector, err)
		}
	}

	if inter.Auto {
		s.autoLoad(page, inter)
	} else {
		s.scrollRounds(page, inter.ScrollRounds, inter.ScrollPauseMS)
		s.clickMore(page, inter)
	}

	if req.WithSnapshots && inter.ItemSelector != "" {
		return s.captureSnapshots(page, inter.ItemSelector, req.URL), nil
	}
	return nil, nil
}

// scrollRounds 滚动到底部若干轮
func (s *BrowserSession) scrollRounds(page *rod.Page, rounds, pauseMS int) {
	for i := 0; i < rounds; i++ {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			s.logger.Debug().Err(err).Msg("滚动失败")
			return
		}
		sleepMS(pauseMS)
	}
}

// clickMore 点击"加载更多"若干次
func (s *BrowserSession) clickMore(page *rod.Page, inter config.EntryInteractionsConfig) {
	if inter.ClickMoreSelector == "" {
		return
	}
	for i := 0; i < inter.ClickMoreTimes; i++ {
		el, err := page.Timeout(5 * time.Second).Element(inter.ClickMoreSelector)
		if err != nil {
			return
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			s.logger.Debug().Err(err).Msg("点击加载更多失败")
			return
		}
		if inter.ClickWaitSelector != "" {
			page.Timeout(5 * time.Second).Element(inter.ClickWaitSelector)
		}
		sleepMS(inter.ScrollPauseMS)
	}
}

// autoTracker 自动加载的推进判定, 以条目数增长为进展信号
type autoTracker struct {
	maxRounds  int
	stallLimit int
	lastCount  int
	rounds     int
	stall      int
}

func newAutoTracker(maxRounds, stallLimit, initialCount int) *autoTracker {
	return &autoTracker{maxRounds: maxRounds, stallLimit: stallLimit, lastCount: initialCount}
}

// Continue 是否还允许再跑一轮
func (t *autoTracker) Continue() bool {
	return t.rounds < t.maxRounds && t.stall < t.stallLimit
}

// Observe 记录一轮交互后的条目数
func (t *autoTracker) Observe(count int) {
	t.rounds++
	if count > t.lastCount {
		t.lastCount = count
		t.stall = 0
	} else {
		t.stall++
	}
}

// autoLoad 自动加载: 滚动/点击交替推进, 以条目数增长为信号,
// 连续停滞auto_stall_rounds轮或达到auto_max_rounds轮即停
func (s *BrowserSession) autoLoad(page *rod.Page, inter config.EntryInteractionsConfig) {
	tracker := newAutoTracker(inter.AutoMaxRounds, inter.AutoStallRounds,
		s.countItems(page, inter.ItemSelector))

	for tracker.Continue() {
		if inter.PreferScrollFirst {
			s.scrollRounds(page, 1, inter.ScrollPauseMS)
			s.clickOnce(page, inter)
		} else {
			if !s.clickOnce(page, inter) {
				s.scrollRounds(page, 1, inter.ScrollPauseMS)
			}
		}
		sleepMS(inter.ScrollPauseMS)
		tracker.Observe(s.countItems(page, inter.ItemSelector))
	}
	s.logger.Debug().Int("items", tracker.lastCount).Msg("自动加载结束")
}

// clickOnce 尝试点击一次加载更多, 返回是否点到
func (s *BrowserSession) clickOnce(page *rod.Page, inter config.EntryInteractionsConfig) bool {
	if inter.ClickMoreSelector == "" {
		return false
	}
	el, err := page.Timeout(2 * time.Second).Element(inter.ClickMoreSelector)
	if err != nil {
		return false
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false
	}
	return true
}

// countItems 目标条目当前数量
func (s *BrowserSession) countItems(page *rod.Page, selector string) int {
	if selector == "" {
		return 0
	}
	els, err := page.Elements(selector)
	if err != nil {
		return 0
	}
	return len(els)
}

// captureSnapshots 按条目首个链接归档各条目HTML, 同链接先到先得
func (s *BrowserSession) captureSnapshots(page *rod.Page, selector, baseURL string) map[string]string {
	els, err := page.Elements(selector)
	if err != nil || len(els) == 0 {
		return nil
	}

	snapshots := make(map[string]string, len(els))
	for _, el := range els {
		href := ""
		if attr, err := el.Attribute("href"); err == nil && attr != nil {
			href = *attr
		}
		if href == "" {
			link, err := el.Timeout(time.Second).Element("a[href]")
			if err != nil {
				continue
			}
			if attr, err := link.Attribute("href"); err == nil && attr != nil {
				href = *attr
			}
		}
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			continue
		}
		full := parser.ResolveURL(baseURL, href)
		if full == "" {
			continue
		}
		if _, ok := snapshots[full]; ok {
			continue
		}
		if html, err := el.HTML(); err == nil {
			snapshots[full] = html
		}
	}
	return snapshots
}

// teardown 释放浏览器资源, 需持锁调用
func (s *BrowserSession) teardown() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("关闭浏览器失败")
		}
	}
	if s.control != nil {
		s.control.Cleanup()
	}
	s.page = nil
	s.browser = nil
	s.control = nil
}

// Close 关闭会话
func (s *BrowserSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
}

func headerPairs(headers map[string]string) []string {
	pairs := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		// Host与UA不走请求头覆盖, 避免与会话级设置冲突
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "User-Agent") {
			continue
		}
		pairs = append(pairs, k, v)
	}
	return pairs
}

func sleepMS(ms int) {
	if ms <= 0 {
		ms = 500
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
