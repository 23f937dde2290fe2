package utils

import (
	"sort"
	"strings"
)

// sensitiveKeywords 敏感头部名称关键字, 命中即脱敏
var sensitiveKeywords = []string{
	"authorization",
	"token",
	"key",
	"secret",
	"password",
	"credential",
	"cookie",
}

// IsSensitiveHeader 检查头部名称是否敏感
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个头部值
func RedactHeaderValue(name, value string) string {
	if !IsSensitiveHeader(name) {
		return value
	}
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// RedactHeaders 脱敏一组请求头并按名称排序拼成日志用字符串
func RedactHeaders(headers map[string]string) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+RedactHeaderValue(name, headers[name]))
	}
	return strings.Join(parts, ", ")
}
