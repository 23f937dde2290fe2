package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/intellicrawl/internal/utils"
)

// SiteType 信息源类型
type SiteType string

const (
	SiteTypeNews   SiteType = "news"
	SiteTypeSocial SiteType = "social"
)

// ScheduleType 调度类型
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

// 输出格式
const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatTXT     = "txt"
	FormatSQLite  = "sqlite"
	FormatMongoDB = "mongodb"
)

var (
	// ErrInvalidSelector 选择器DSL格式非法
	ErrInvalidSelector = errors.New("选择器格式非法")
	// ErrInvalidSource 信息源配置非法
	ErrInvalidSource = errors.New("信息源配置非法")
)

// ExtractMode 字段抽取模式
type ExtractMode string

const (
	ExtractText ExtractMode = "text"
	ExtractHTML ExtractMode = "html"
	ExtractAttr ExtractMode = "attr"
)

// ExtractRule 解析后的字段抽取规则
// 由选择器DSL "css选择器::模式" 在配置加载时解析得到,
// 模式缺省为text, attr模式写作 "attr:href"
type ExtractRule struct {
	Selector string
	Mode     ExtractMode
	Attr     string
}

// ParseExtractRule 解析单条选择器DSL
func ParseExtractRule(raw string) (ExtractRule, error) {
	css := strings.TrimSpace(raw)
	mode := "text"
	if idx := strings.Index(raw, "::"); idx >= 0 {
		css = strings.TrimSpace(raw[:idx])
		mode = strings.ToLower(strings.TrimSpace(raw[idx+2:]))
	}
	if css == "" {
		return ExtractRule{}, fmt.Errorf("%w: %q", ErrInvalidSelector, raw)
	}
	rule := ExtractRule{Selector: css}
	switch {
	case mode == "" || mode == "text":
		rule.Mode = ExtractText
	case mode == "html":
		rule.Mode = ExtractHTML
	case strings.HasPrefix(mode, "attr:"):
		attr := strings.TrimSpace(strings.TrimPrefix(mode, "attr:"))
		if attr == "" {
			return ExtractRule{}, fmt.Errorf("%w: attr模式缺少属性名 %q", ErrInvalidSelector, raw)
		}
		rule.Mode = ExtractAttr
		rule.Attr = attr
	default:
		return ExtractRule{}, fmt.Errorf("%w: 未知模式 %q", ErrInvalidSelector, mode)
	}
	return rule, nil
}

// ScheduleConfig 信息源调度配置
type ScheduleConfig struct {
	Type  ScheduleType `mapstructure:"type"`
	Value string       `mapstructure:"value"` // cron表达式 / 间隔秒数 / 启动时刻
}

// AntiScrapingConfig 反爬策略配置
type AntiScrapingConfig struct {
	UserAgentRotation  bool              `mapstructure:"user_agent_rotation"`
	ProxyPool          bool              `mapstructure:"proxy_pool"`
	DelayRange         []float64         `mapstructure:"delay_range"` // [最小秒, 最大秒]
	RetryOnFail        int               `mapstructure:"retry_on_fail"`
	UseHeadlessBrowser bool              `mapstructure:"use_headless_browser"`
	CaptchaSolver      bool              `mapstructure:"captcha_solver"`
	UseStealthJS       bool              `mapstructure:"use_stealth_js"`
	RandomizeViewport  bool              `mapstructure:"randomize_viewport"`
	ViewportWidth      int               `mapstructure:"viewport_width"`
	ViewportHeight     int               `mapstructure:"viewport_height"`
	HeadlessMode       *bool             `mapstructure:"headless_mode"` // nil视为true
	PageTimeoutMS      int               `mapstructure:"page_timeout_ms"`
	RequestTimeoutS    float64           `mapstructure:"request_timeout_s"`
	ExtraHeaders       map[string]string `mapstructure:"extra_headers"`
	Locale             string            `mapstructure:"locale"`
	TimezoneID         string            `mapstructure:"timezone_id"`
}

// Headless 无头开关, 未配置时默认开启
func (a AntiScrapingConfig) Headless() bool {
	if a.HeadlessMode == nil {
		return true
	}
	return *a.HeadlessMode
}

// DelayBounds 返回延迟区间, 未配置时为(0,0)
func (a AntiScrapingConfig) DelayBounds() (float64, float64) {
	if len(a.DelayRange) >= 2 {
		return a.DelayRange[0], a.DelayRange[1]
	}
	return 0, 0
}

// EntryInteractionsConfig 入口页浏览器交互配置
type EntryInteractionsConfig struct {
	WaitSelector      string `mapstructure:"wait_selector"`
	ScrollRounds      int    `mapstructure:"scroll_rounds"`
	ScrollPauseMS     int    `mapstructure:"scroll_pause_ms"`
	ClickMoreSelector string `mapstructure:"click_more_selector"`
	ClickMoreTimes    int    `mapstructure:"click_more_times"`
	ClickWaitSelector string `mapstructure:"click_wait_selector"`
	Auto              bool   `mapstructure:"auto"`
	AutoMaxRounds     int    `mapstructure:"auto_max_rounds"`
	AutoStallRounds   int    `mapstructure:"auto_stall_rounds"`
	ItemSelector      string `mapstructure:"item_selector"`
	PreferScrollFirst bool   `mapstructure:"prefer_scroll_first"`
}

// DeduplicationConfig 去重配置
type DeduplicationConfig struct {
	ByURL     bool   `mapstructure:"by_url"`
	ByContent bool   `mapstructure:"by_content"`
	StorePath string `mapstructure:"store_path"`
}

// SourceConfig 单个信息源的完整配置
type SourceConfig struct {
	SourceName        string                  `mapstructure:"source_name"`
	SiteType          SiteType                `mapstructure:"site_type"`
	TargetURL         string                  `mapstructure:"target_url"`
	CrawlDepth        int                     `mapstructure:"crawl_depth"`
	EntryPattern      string                  `mapstructure:"entry_pattern"`
	PaginationPattern string                  `mapstructure:"pagination_pattern"` // crawl_depth>1时的翻页链接选择器
	DetailPattern     map[string][]string     `mapstructure:"-"`                  // 原始DSL, 加载时填充
	KeywordsFilter    []string                `mapstructure:"keywords_filter"`
	OutputFormat      string                  `mapstructure:"output_format"`
	Schedule          ScheduleConfig          `mapstructure:"schedule"`
	AntiScraping      AntiScrapingConfig      `mapstructure:"anti_scraping_strategies"`
	EnableIncremental bool                    `mapstructure:"enable_incremental"`
	UseEntryContent   bool                    `mapstructure:"use_entry_content"`
	Deduplication     DeduplicationConfig     `mapstructure:"deduplication"`
	EntryInteractions EntryInteractionsConfig `mapstructure:"entry_interactions"`

	// DetailRules 由DetailPattern解析得到的字段规则, 按字段名分组,
	// 组内顺序即回退顺序
	DetailRules map[string][]ExtractRule `mapstructure:"-"`
	// DetailFields 保持配置文件中字段声明顺序
	DetailFields []string `mapstructure:"-"`
}

// Validate 校验必填项与取值范围
func (s *SourceConfig) Validate() error {
	if strings.TrimSpace(s.SourceName) == "" {
		return fmt.Errorf("%w: source_name不能为空", ErrInvalidSource)
	}
	if s.TargetURL == "" {
		return fmt.Errorf("%w: %s缺少target_url", ErrInvalidSource, s.SourceName)
	}
	if err := utils.ValidateURL(s.TargetURL); err != nil {
		return fmt.Errorf("%w: %s的target_url非法: %v", ErrInvalidSource, s.SourceName, err)
	}
	if err := utils.ValidateHeaders(s.AntiScraping.ExtraHeaders); err != nil {
		return fmt.Errorf("%w: %s的extra_headers非法: %v", ErrInvalidSource, s.SourceName, err)
	}
	switch s.OutputFormat {
	case "", FormatJSON, FormatCSV, FormatTXT, FormatSQLite, FormatMongoDB:
	default:
		return fmt.Errorf("%w: %s的output_format不支持: %s", ErrInvalidSource, s.SourceName, s.OutputFormat)
	}
	if lo, hi := s.AntiScraping.DelayBounds(); lo < 0 || hi < lo {
		return fmt.Errorf("%w: %s的delay_range区间非法", ErrInvalidSource, s.SourceName)
	}
	if s.AntiScraping.RetryOnFail < 0 {
		return fmt.Errorf("%w: %s的retry_on_fail不能为负", ErrInvalidSource, s.SourceName)
	}
	return nil
}

// TargetHost 目标站点主机名
func (s *SourceConfig) TargetHost() string {
	u, err := url.Parse(s.TargetURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// HistoryPath 去重库文件路径, 未显式配置时落在baseDir下
func (s *SourceConfig) HistoryPath(baseDir string) string {
	if s.Deduplication.StorePath != "" {
		return s.Deduplication.StorePath
	}
	return filepath.Join(baseDir, s.SourceName+".sqlite3")
}

// applyDefaults 补齐缺省值, 加载阶段调用
func (s *SourceConfig) applyDefaults() {
	if s.SiteType == "" {
		s.SiteType = SiteTypeNews
	}
	if s.CrawlDepth <= 0 {
		s.CrawlDepth = 1
	}
	if s.OutputFormat == "" {
		s.OutputFormat = FormatJSON
	}
	if s.EntryInteractions.AutoMaxRounds <= 0 {
		s.EntryInteractions.AutoMaxRounds = 20
	}
	if s.EntryInteractions.AutoStallRounds <= 0 {
		s.EntryInteractions.AutoStallRounds = 3
	}
	if s.EntryInteractions.ItemSelector == "" {
		s.EntryInteractions.ItemSelector = s.EntryPattern
	}
	if s.EntryInteractions.ScrollPauseMS <= 0 {
		s.EntryInteractions.ScrollPauseMS = 800
	}
	if s.PaginationPattern == "" {
		s.PaginationPattern = "a[rel=next]"
	}
	if !s.Deduplication.ByURL && !s.Deduplication.ByContent {
		s.Deduplication.ByURL = true
	}
}

// ProxyPoolConfig 代理池配置
type ProxyPoolConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Proxies []string `mapstructure:"proxies"`
	File    string   `mapstructure:"file"`
}

// MongoConfig Mongo导出配置
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"` // 为空时用信息源名
}

// GlobalConfig 全局配置
type GlobalConfig struct {
	SourcesDir        string          `mapstructure:"sources_dir"`
	OutputsDir        string          `mapstructure:"outputs_dir"`
	HistoryDir        string          `mapstructure:"history_dir"`
	LogDir            string          `mapstructure:"log_dir"`
	LogLevel          string          `mapstructure:"log_level"`
	WorkerCount       int             `mapstructure:"worker_count"`
	DefaultDelayRange []float64       `mapstructure:"default_delay_range"`
	UserAgents        []string        `mapstructure:"user_agents"`
	ProxyPool         ProxyPoolConfig `mapstructure:"proxy_pool"`
	Mongo             MongoConfig     `mapstructure:"mongo"`
	BrowserFallback   bool            `mapstructure:"browser_fallback"` // 校验失败后是否强制浏览器重抓
	RequestTimeoutS   float64         `mapstructure:"request_timeout_s"`
}

// DefaultDelayBounds 全局缺省延迟区间
func (g *GlobalConfig) DefaultDelayBounds() (float64, float64) {
	if len(g.DefaultDelayRange) >= 2 {
		return g.DefaultDelayRange[0], g.DefaultDelayRange[1]
	}
	return 0, 0
}
