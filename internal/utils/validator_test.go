package utils

import (
	"strings"
	"testing"
)

// TestValidateURL 测试URL校验
func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"合法http", "http://example.com/path", false},
		{"合法https", "https://example.com", false},
		{"缺少协议", "example.com/path", true},
		{"非http协议", "ftp://example.com", true},
		{"缺少主机", "https://", true},
		{"空字符串", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateURL(tt.url); (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestValidateHeader 测试自定义头部校验
func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		wantErr bool
	}{
		{"普通头部", "X-Custom-Header", "value", false},
		{"禁止头部Host", "Host", "example.com", true},
		{"禁止头部不区分大小写", "content-length", "10", true},
		{"名称含空格", "Bad Header", "value", true},
		{"名称为空", "", "value", true},
		{"值含控制字符", "X-Token", "abc\ndef", true},
		{"值过长", "X-Big", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"空值合法", "X-Empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateHeader(tt.header, tt.value); (err != nil) != tt.wantErr {
				t.Errorf("ValidateHeader(%q, ...) = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
		})
	}
}

// TestRedactHeaders 测试敏感头部脱敏
func TestRedactHeaders(t *testing.T) {
	headers := map[string]string{
		"Accept":        "text/html",
		"Authorization": "Bearer abcdef123456",
		"X-Api-Key":     "sk-1234567890abcdef",
		"Cookie":        "short",
	}
	got := RedactHeaders(headers)

	if strings.Contains(got, "abcdef123456") {
		t.Error("Bearer令牌未脱敏")
	}
	if !strings.Contains(got, "Bearer ***") {
		t.Errorf("Bearer令牌脱敏格式错误: %s", got)
	}
	if !strings.Contains(got, "sk-1***cdef") {
		t.Errorf("API密钥应保留首尾4位: %s", got)
	}
	if !strings.Contains(got, "Cookie: ***") {
		t.Errorf("短敏感值应完全隐藏: %s", got)
	}
	if !strings.Contains(got, "Accept: text/html") {
		t.Errorf("普通头部不应脱敏: %s", got)
	}
}
