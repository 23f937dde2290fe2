package fetcher

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/antibot"
	"github.com/RecoveryAshes/intellicrawl/internal/config"
	"github.com/RecoveryAshes/intellicrawl/internal/utils"
)

// 缺省请求头, 策略链与请求级头可覆盖
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
}

const (
	defaultTimeout = 20 * time.Second
	maxDelay       = 5 * time.Second
)

// FetchError 重试耗尽后的抓取失败
type FetchError struct {
	URL        string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("抓取失败 %s (尝试%d次, 最后状态%d): %v", e.URL, e.Attempts, e.LastStatus, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Request 一次抓取请求
// Interactions仅在浏览器抓取时生效
type Request struct {
	URL           string
	Headers       map[string]string
	Timeout       time.Duration
	ForceBrowser  bool
	WorkerID      int
	Interactions  config.EntryInteractionsConfig
	WithSnapshots bool
}

// Response 抓取结果
type Response struct {
	URL        string
	StatusCode int
	Text       string
	Headers    map[string]string
	// Snapshots auto交互模式下按条目首链接归档的条目HTML
	Snapshots map[string]string
}

// Fetcher 抓取引擎: 策略链驱动的HTTP抓取 + 按工作者隔离的浏览器会话
type Fetcher struct {
	global  *config.GlobalConfig
	proxies *antibot.ProxyPool
	agents  *antibot.UserAgentPool
	logger  zerolog.Logger

	jar       http.CookieJar
	transport *http.Transport

	sessionsMu sync.Mutex
	sessions   map[int]*BrowserSession
}

// New 创建抓取引擎
func New(global *config.GlobalConfig, proxies *antibot.ProxyPool, agents *antibot.UserAgentPool, logger zerolog.Logger) *Fetcher {
	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		global:  global,
		proxies: proxies,
		agents:  agents,
		logger:  logger,
		jar:     jar,
		transport: &http.Transport{
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     60 * time.Second,
		},
		sessions: make(map[int]*BrowserSession),
	}
}

// Fetch 执行一次带重试的抓取
// 流程: 策略链prepare -> 合并请求头 -> 延迟 -> HTTP或浏览器分发 ->
// 按状态分类 -> 通知策略链 -> 重试或返回
func (f *Fetcher) Fetch(src *config.SourceConfig, req Request) (*Response, error) {
	ctx, chain := antibot.BuildChain(src, f.global, f.proxies, f.agents, f.logger)

	var lastErr error
	var lastStatus int
	for {
		directive := chain.Prepare(ctx)
		headers := f.mergeHeaders(src, directive.Headers, req.Headers)
		timeout := f.pickTimeout(req.Timeout, directive.Timeout, src)
		f.logger.Debug().
			Str("url", req.URL).
			Str("headers", utils.RedactHeaders(headers)).
			Msg("请求头已合并")

		if directive.Delay > 0 {
			delay := directive.Delay
			if delay > maxDelay {
				delay = maxDelay
			}
			time.Sleep(delay)
		}

		useBrowser := directive.UseBrowser || req.ForceBrowser
		var resp *Response
		var err error
		if useBrowser {
			resp, err = f.browserFetch(src, req, headers, timeout)
		} else {
			resp, err = f.httpFetch(req.URL, headers, timeout, directive.Proxy)
			if err == nil {
				if follow, ok := f.maybeSolveAliyunWAF(resp, headers, timeout, directive.Proxy); ok {
					resp = follow
				}
			}
		}

		switch {
		case err != nil:
			f.logger.Warn().Err(err).
				Str("url", req.URL).
				Int("attempt", ctx.Attempt).
				Msg("请求失败")
			lastErr = err
			lastStatus = 0
			chain.NotifyFailure(ctx, 0, err)
		case isRetryableStatus(resp.StatusCode):
			f.logger.Warn().
				Int("status", resp.StatusCode).
				Str("url", req.URL).
				Int("attempt", ctx.Attempt).
				Msg("状态码可重试")
			lastErr = fmt.Errorf("状态码%d", resp.StatusCode)
			lastStatus = resp.StatusCode
			chain.NotifyFailure(ctx, resp.StatusCode, nil)
		default:
			// 含2xx与不可重试的4xx, 由调用方自行判读
			chain.NotifySuccess(ctx, resp.StatusCode)
			return resp, nil
		}

		if !chain.ShouldRetry(ctx) {
			break
		}
	}

	return nil, &FetchError{
		URL:        req.URL,
		Attempts:   ctx.MaxAttempts,
		LastStatus: lastStatus,
		Err:        lastErr,
	}
}

// isRetryableStatus 5xx与401/403/429可重试, 其余4xx原样返回
func isRetryableStatus(status int) bool {
	if status >= 500 {
		return true
	}
	switch status {
	case 401, 403, 429:
		return true
	}
	return false
}

// mergeHeaders 合并顺序: 缺省 < 信息源extra_headers < 策略链 < 请求级
func (f *Fetcher) mergeHeaders(src *config.SourceConfig, layers ...map[string]string) map[string]string {
	merged := make(map[string]string, len(defaultHeaders))
	for k, v := range defaultHeaders {
		merged[k] = v
	}
	for k, v := range src.AntiScraping.ExtraHeaders {
		merged[k] = v
	}
	for _, layer := range layers {
		for k, v := range layer {
			if v != "" {
				merged[k] = v
			}
		}
	}
	return merged
}

func (f *Fetcher) pickTimeout(reqTimeout, directiveTimeout time.Duration, src *config.SourceConfig) time.Duration {
	if reqTimeout > 0 {
		return reqTimeout
	}
	if directiveTimeout > 0 {
		return directiveTimeout
	}
	if src.AntiScraping.RequestTimeoutS > 0 {
		return time.Duration(src.AntiScraping.RequestTimeoutS * float64(time.Second))
	}
	if f.global != nil && f.global.RequestTimeoutS > 0 {
		return time.Duration(f.global.RequestTimeoutS * float64(time.Second))
	}
	return defaultTimeout
}

// httpFetch 普通HTTP抓取, 共享cookie罐, 代理按次生效
func (f *Fetcher) httpFetch(rawURL string, headers map[string]string, timeout time.Duration, proxy string) (*Response, error) {
	transport := f.transport
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("代理地址非法 %s: %w", proxy, err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	client := &http.Client{
		Transport: transport,
		Jar:       f.jar,
		Timeout:   timeout,
	}

	httpReq, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := decodeBody(httpResp)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	respHeaders := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		respHeaders[k] = httpResp.Header.Get(k)
	}
	finalURL := rawURL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}
	return &Response{
		URL:        finalURL,
		StatusCode: httpResp.StatusCode,
		Text:       string(body),
		Headers:    respHeaders,
	}, nil
}

// decodeBody 读取响应体, brotli编码时解压
// gzip由标准库transport透明处理
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}

// 阿里云WAF挑战页特征与arg1令牌
var (
	wafMarkers  = []string{"acw_sc__v2", "var arg1"}
	wafArgRegex = regexp.MustCompile(`var\s+arg1='([0-9a-fA-F]+)'`)
)

// maybeSolveAliyunWAF 识别阿里云WAF挑战页并补发一次请求
// 挑战页携带arg1十六进制令牌, 取[10:60)作为acw_sc__v2 cookie值;
// 仅补发一次, 不计入重试次数, 浏览器抓取不走此路径
func (f *Fetcher) maybeSolveAliyunWAF(resp *Response, headers map[string]string, timeout time.Duration, proxy string) (*Response, bool) {
	marked := false
	for _, marker := range wafMarkers {
		if strings.Contains(resp.Text, marker) {
			marked = true
			break
		}
	}
	if !marked {
		return nil, false
	}

	match := wafArgRegex.FindStringSubmatch(resp.Text)
	if match == nil || len(match[1]) < 60 {
		return nil, false
	}
	cookieValue := match[1][10:60]

	target, err := url.Parse(resp.URL)
	if err != nil || target.Host == "" {
		return nil, false
	}
	scope := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/"}
	f.jar.SetCookies(scope, []*http.Cookie{{
		Name:  "acw_sc__v2",
		Value: cookieValue,
		Path:  "/",
	}})

	f.logger.Info().Str("host", target.Host).Msg("检测到WAF挑战页,携带acw_sc__v2补发请求")
	follow, err := f.httpFetch(resp.URL, headers, timeout, proxy)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", resp.URL).Msg("WAF补发请求失败,沿用原响应")
		return nil, false
	}
	return follow, true
}

// browserFetch 浏览器抓取, 会话按工作者标识隔离复用
func (f *Fetcher) browserFetch(src *config.SourceConfig, req Request, headers map[string]string, timeout time.Duration) (*Response, error) {
	session := f.sessionFor(req.WorkerID, src, headers["User-Agent"])
	return session.Fetch(req, headers, timeout)
}

// sessionFor 取(或惰性创建)该工作者的浏览器会话
func (f *Fetcher) sessionFor(workerID int, src *config.SourceConfig, userAgent string) *BrowserSession {
	f.sessionsMu.Lock()
	defer f.sessionsMu.Unlock()

	session, ok := f.sessions[workerID]
	if !ok {
		session = newBrowserSession(browserOptionsFrom(src, userAgent), f.logger)
		f.sessions[workerID] = session
	}
	return session
}

// Close 关闭所有浏览器会话
func (f *Fetcher) Close() {
	f.sessionsMu.Lock()
	sessions := make([]*BrowserSession, 0, len(f.sessions))
	for _, session := range f.sessions {
		sessions = append(sessions, session)
	}
	f.sessions = make(map[int]*BrowserSession)
	f.sessionsMu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	f.transport.CloseIdleConnections()
}
