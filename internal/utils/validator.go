package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
	MaxHeaderValueLength = 8192
)

var (
	// ForbiddenHeaders 禁止在配置中自定义的头部 (由HTTP客户端管理)
	ForbiddenHeaders = []string{
		"Host",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
	}

	// 头部名称 (RFC 7230): 字母数字连字符
	headerNameRegex = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	// 头部值: 可打印ASCII + 空格/制表符
	headerValueRegex = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// ValidateURL 验证URL格式, 仅接受http/https
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URL格式无效: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL协议必须是http或https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL缺少主机名")
	}
	return nil
}

// ValidateHeader 验证单个自定义头部的名称与值
func ValidateHeader(name, value string) error {
	lower := strings.ToLower(name)
	for _, forbidden := range ForbiddenHeaders {
		if lower == strings.ToLower(forbidden) {
			return fmt.Errorf("头部%s由HTTP客户端自动管理, 不允许自定义", name)
		}
	}
	if name == "" || !headerNameRegex.MatchString(name) {
		return fmt.Errorf("头部名称非法: %q (仅允许字母、数字和连字符)", name)
	}
	if len(value) > MaxHeaderValueLength {
		return fmt.Errorf("头部%s的值过长: %d字节 (最大%d)", name, len(value), MaxHeaderValueLength)
	}
	if !headerValueRegex.MatchString(value) {
		return fmt.Errorf("头部%s的值包含非法字符 (仅允许可打印ASCII)", name)
	}
	return nil
}

// ValidateHeaders 验证一组自定义头部, 返回第一个错误
func ValidateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if err := ValidateHeader(name, value); err != nil {
			return err
		}
	}
	return nil
}
