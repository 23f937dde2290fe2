package antibot

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// RequestDirective 一次请求前由策略链汇总出的执行指令
type RequestDirective struct {
	Headers      map[string]string
	Proxy        string
	Delay        time.Duration
	Timeout      time.Duration
	UseBrowser   bool
	SolveCaptcha bool
}

// Context 一次抓取任务在策略链上的共享状态
// Attempt从1开始计数, 成功后复位
type Context struct {
	Source      *config.SourceConfig
	Attempt     int
	MaxAttempts int
	LastStatus  int
	LastErr     error
}

// Strategy 反爬策略, 三个钩子分别在请求前/成功后/失败后调用
type Strategy interface {
	Name() string
	BeforeRequest(ctx *Context, d *RequestDirective)
	AfterSuccess(ctx *Context, status int)
	AfterFailure(ctx *Context, status int, err error)
}

// Chain 按固定顺序执行的策略链
type Chain struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// BuildChain 按信息源配置组装策略链与共享状态
// 顺序固定: 重试, 代理, UA, 延迟, 无头浏览器, 验证码
func BuildChain(src *config.SourceConfig, global *config.GlobalConfig,
	proxies *ProxyPool, agents *UserAgentPool, logger zerolog.Logger) (*Context, *Chain) {

	maxAttempts := src.AntiScraping.RetryOnFail + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx := &Context{
		Source:      src,
		Attempt:     1,
		MaxAttempts: maxAttempts,
	}

	chain := &Chain{
		logger: logger,
		strategies: []Strategy{
			&RetryStrategy{},
			&ProxyStrategy{pool: proxies},
			&UserAgentStrategy{pool: agents},
			&DelayStrategy{global: global},
			&HeadlessBrowserStrategy{},
			&CaptchaStrategy{logger: logger},
		},
	}
	return ctx, chain
}

// Prepare 依次执行所有策略的请求前钩子, 返回本次请求指令
func (c *Chain) Prepare(ctx *Context) *RequestDirective {
	d := &RequestDirective{Headers: make(map[string]string)}
	for _, s := range c.strategies {
		s.BeforeRequest(ctx, d)
	}
	return d
}

// NotifySuccess 请求成功后广播
func (c *Chain) NotifySuccess(ctx *Context, status int) {
	ctx.LastStatus = status
	ctx.LastErr = nil
	for _, s := range c.strategies {
		s.AfterSuccess(ctx, status)
	}
}

// NotifyFailure 请求失败后广播
func (c *Chain) NotifyFailure(ctx *Context, status int, err error) {
	ctx.LastStatus = status
	ctx.LastErr = err
	for _, s := range c.strategies {
		s.AfterFailure(ctx, status, err)
	}
}

// ShouldRetry 当前尝试次数未超过上限时允许重试
func (c *Chain) ShouldRetry(ctx *Context) bool {
	return ctx.Attempt <= ctx.MaxAttempts
}
