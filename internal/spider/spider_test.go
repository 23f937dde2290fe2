package spider

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// TestDiscoverFollowsPagination 测试沿翻页链接收集详情链接
func TestDiscoverFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="entry" href="/d/1">一</a>
			<a class="entry" href="/d/2">二</a>
			<a rel="next" href="/list?page=2">下一页</a>
		</body></html>`)
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `<html><body>
				<a class="entry" href="/d/3">三</a>
				<a class="entry" href="/d/1">重复</a>
				<a rel="next" href="/list?page=3">下一页</a>
			</body></html>`)
			return
		}
		if r.URL.Query().Get("page") == "3" {
			fmt.Fprint(w, `<html><body><a class="entry" href="/d/4">四</a></body></html>`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	defer server.Close()

	src := &config.SourceConfig{
		SourceName:        "demo",
		TargetURL:         server.URL + "/list",
		CrawlDepth:        2,
		EntryPattern:      "a.entry",
		PaginationPattern: "a[rel=next]",
	}

	s := New(src, map[string]string{"User-Agent": "test"}, 5*time.Second, zerolog.Nop())
	entries, err := s.Discover(src.TargetURL)
	if err != nil {
		t.Fatalf("发现失败: %v", err)
	}

	// depth=2: 首页 + 第二页, 第三页不访问
	want := []string{
		server.URL + "/d/1",
		server.URL + "/d/2",
		server.URL + "/d/3",
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i], want[i])
		}
	}
}

// TestDiscoverStaysOnHost 测试不跟出站链接
func TestDiscoverStaysOnHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="entry" href="/d/1">站内</a>
			<a rel="next" href="https://evil.example.com/page2">出站翻页</a>
		</body></html>`)
	}))
	defer server.Close()

	src := &config.SourceConfig{
		SourceName:        "demo",
		TargetURL:         server.URL,
		CrawlDepth:        3,
		EntryPattern:      "a.entry",
		PaginationPattern: "a[rel=next]",
	}

	s := New(src, nil, 5*time.Second, zerolog.Nop())
	entries, err := s.Discover(src.TargetURL)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != server.URL+"/d/1" {
		t.Errorf("entries = %v", entries)
	}
}
