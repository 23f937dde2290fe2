package antibot

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// RetryStrategy 维护尝试计数: 失败加一, 成功复位
type RetryStrategy struct{}

func (s *RetryStrategy) Name() string { return "retry" }

func (s *RetryStrategy) BeforeRequest(ctx *Context, d *RequestDirective) {}

func (s *RetryStrategy) AfterSuccess(ctx *Context, status int) {
	ctx.Attempt = 1
}

func (s *RetryStrategy) AfterFailure(ctx *Context, status int, err error) {
	ctx.Attempt++
}

// ProxyStrategy 按轮询从代理池取代理
type ProxyStrategy struct {
	pool *ProxyPool
}

func (s *ProxyStrategy) Name() string { return "proxy" }

func (s *ProxyStrategy) BeforeRequest(ctx *Context, d *RequestDirective) {
	if !ctx.Source.AntiScraping.ProxyPool || s.pool == nil {
		return
	}
	if proxy := s.pool.Next(); proxy != "" {
		d.Proxy = proxy
	}
}

func (s *ProxyStrategy) AfterSuccess(ctx *Context, status int) {}

func (s *ProxyStrategy) AfterFailure(ctx *Context, status int, err error) {}

// UserAgentStrategy 启用轮换时每次请求换一个UA
type UserAgentStrategy struct {
	pool *UserAgentPool
}

func (s *UserAgentStrategy) Name() string { return "user_agent" }

func (s *UserAgentStrategy) BeforeRequest(ctx *Context, d *RequestDirective) {
	if !ctx.Source.AntiScraping.UserAgentRotation || s.pool == nil {
		return
	}
	d.Headers["User-Agent"] = s.pool.Pick()
}

func (s *UserAgentStrategy) AfterSuccess(ctx *Context, status int) {}

func (s *UserAgentStrategy) AfterFailure(ctx *Context, status int, err error) {}

// DelayStrategy 请求前随机延迟
// 信息源区间为(0,0)时回退全局缺省区间, 上界<=0时不延迟
type DelayStrategy struct {
	global *config.GlobalConfig
	rnd    *rand.Rand
}

func (s *DelayStrategy) Name() string { return "delay" }

func (s *DelayStrategy) BeforeRequest(ctx *Context, d *RequestDirective) {
	lo, hi := ctx.Source.AntiScraping.DelayBounds()
	if lo == 0 && hi == 0 && s.global != nil {
		lo, hi = s.global.DefaultDelayBounds()
	}
	if hi <= 0 {
		return
	}
	if hi < lo {
		hi = lo
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	seconds := lo + s.rnd.Float64()*(hi-lo)
	d.Delay = time.Duration(seconds * float64(time.Second))
}

func (s *DelayStrategy) AfterSuccess(ctx *Context, status int) {}

func (s *DelayStrategy) AfterFailure(ctx *Context, status int, err error) {}

// HeadlessBrowserStrategy 按配置切换浏览器抓取并下发页面超时
type HeadlessBrowserStrategy struct{}

func (s *HeadlessBrowserStrategy) Name() string { return "headless_browser" }

func (s *HeadlessBrowserStrategy) BeforeRequest(ctx *Context, d *RequestDirective) {
	cfg := ctx.Source.AntiScraping
	if cfg.UseHeadlessBrowser {
		d.UseBrowser = true
	}
	if cfg.PageTimeoutMS > 0 {
		d.Timeout = time.Duration(cfg.PageTimeoutMS) * time.Millisecond
	}
}

func (s *HeadlessBrowserStrategy) AfterSuccess(ctx *Context, status int) {}

func (s *HeadlessBrowserStrategy) AfterFailure(ctx *Context, status int, err error) {}

// CaptchaStrategy 验证码处理标记
// 当前仅下发标记并在疑似验证码拦截时告警, 不接入打码服务
type CaptchaStrategy struct {
	logger zerolog.Logger
}

func (s *CaptchaStrategy) Name() string { return "captcha" }

func (s *CaptchaStrategy) BeforeRequest(ctx *Context, d *RequestDirective) {
	if ctx.Source.AntiScraping.CaptchaSolver {
		d.SolveCaptcha = true
	}
}

func (s *CaptchaStrategy) AfterSuccess(ctx *Context, status int) {}

func (s *CaptchaStrategy) AfterFailure(ctx *Context, status int, err error) {
	if !ctx.Source.AntiScraping.CaptchaSolver {
		return
	}
	if status == 403 || status == 429 {
		s.logger.Warn().
			Int("status", status).
			Str("source", ctx.Source.SourceName).
			Msg("疑似验证码拦截,当前未接入打码服务")
	}
}
