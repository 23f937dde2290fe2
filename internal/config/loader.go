package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// setDefaults 设置全局配置缺省值
func setDefaults(v *viper.Viper) {
	v.SetDefault("sources_dir", "sources")
	v.SetDefault("outputs_dir", "outputs")
	v.SetDefault("history_dir", "history")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("worker_count", 8)
	v.SetDefault("default_delay_range", []float64{1.0, 3.0})
	v.SetDefault("browser_fallback", true)
	v.SetDefault("request_timeout_s", 20.0)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "intellicrawl")
}

// LoadGlobal 加载全局配置文件, path为空时按惯例位置查找
func LoadGlobal(path string) (*GlobalConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取全局配置失败: %w", err)
		}
	} else {
		v.SetConfigName("intellicrawl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		// 配置文件缺失时使用全量缺省值
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("读取全局配置失败: %w", err)
			}
		}
	}

	var cfg GlobalConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析全局配置失败: %w", err)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	return &cfg, nil
}

// Repository 信息源配置仓库, 每个信息源一个YAML文件
type Repository struct {
	global     *GlobalConfig
	sourcesDir string
}

// NewRepository 创建配置仓库
func NewRepository(global *GlobalConfig) *Repository {
	return &Repository{global: global, sourcesDir: global.SourcesDir}
}

// Global 返回全局配置
func (r *Repository) Global() *GlobalConfig {
	return r.global
}

// ListSources 列出sources目录下所有信息源名(按文件名去扩展名, 排序)
func (r *Repository) ListSources() ([]string, error) {
	entries, err := os.ReadDir(r.sourcesDir)
	if err != nil {
		return nil, fmt.Errorf("读取信息源目录失败: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ext))
	}
	sort.Strings(names)
	return names, nil
}

// SourcePath 信息源配置文件路径, .yaml优先, 回退.yml
func (r *Repository) SourcePath(name string) string {
	path := filepath.Join(r.sourcesDir, name+".yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	alt := filepath.Join(r.sourcesDir, name+".yml")
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return path
}

// LoadSource 加载并校验单个信息源配置
func (r *Repository) LoadSource(name string) (*SourceConfig, error) {
	return LoadSourceFile(r.SourcePath(name))
}

// LoadSourceFile 从指定文件加载信息源配置
func LoadSourceFile(path string) (*SourceConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取信息源配置失败 %s: %w", path, err)
	}

	var src SourceConfig
	if err := v.Unmarshal(&src); err != nil {
		return nil, fmt.Errorf("解析信息源配置失败 %s: %w", path, err)
	}
	if src.SourceName == "" {
		base := filepath.Base(path)
		src.SourceName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	// detail_pattern的值可以是单条DSL或DSL列表, 这里统一成列表
	// 并一次性解析为类型化规则
	raw := v.Get("detail_pattern")
	pattern, err := normalizeDetailPattern(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.DetailPattern = pattern
	src.DetailRules = make(map[string][]ExtractRule, len(pattern))
	for field, selectors := range pattern {
		for _, sel := range selectors {
			rule, err := ParseExtractRule(sel)
			if err != nil {
				return nil, fmt.Errorf("%s: 字段%s: %w", path, field, err)
			}
			src.DetailRules[field] = append(src.DetailRules[field], rule)
		}
	}
	src.DetailFields = orderedFields(pattern)

	src.applyDefaults()
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return &src, nil
}

// normalizeDetailPattern 把viper读出的detail_pattern统一成 字段->DSL列表
func normalizeDetailPattern(raw interface{}) (map[string][]string, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: detail_pattern必须是映射", ErrInvalidSource)
	}
	out := make(map[string][]string, len(m))
	for field, value := range m {
		switch v := value.(type) {
		case string:
			out[field] = []string{v}
		case []interface{}:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: detail_pattern.%s包含非字符串选择器", ErrInvalidSource, field)
				}
				out[field] = append(out[field], s)
			}
		default:
			return nil, fmt.Errorf("%w: detail_pattern.%s类型不支持", ErrInvalidSource, field)
		}
	}
	return out, nil
}

// orderedFields 字段输出顺序: title、content优先, 其余按名称排序
func orderedFields(pattern map[string][]string) []string {
	if len(pattern) == 0 {
		return nil
	}
	var fields []string
	for _, key := range []string{"title", "content"} {
		if _, ok := pattern[key]; ok {
			fields = append(fields, key)
		}
	}
	var rest []string
	for field := range pattern {
		if field == "title" || field == "content" {
			continue
		}
		rest = append(rest, field)
	}
	sort.Strings(rest)
	return append(fields, rest...)
}
