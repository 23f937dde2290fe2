package antibot

import (
	"bufio"
	"math/rand"
	"os"
	"strings"
	"sync"
)

// 内置UA池, 配置未提供user_agents时使用
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
}

// UserAgentPool UA轮换池
type UserAgentPool struct {
	mu     sync.Mutex
	agents []string
	rnd    *rand.Rand
}

// NewUserAgentPool 创建UA池, agents为空时使用内置池
func NewUserAgentPool(agents []string, seed int64) *UserAgentPool {
	pool := make([]string, 0, len(agents))
	for _, ua := range agents {
		if strings.TrimSpace(ua) != "" {
			pool = append(pool, strings.TrimSpace(ua))
		}
	}
	if len(pool) == 0 {
		pool = append(pool, defaultUserAgents...)
	}
	return &UserAgentPool{agents: pool, rnd: rand.New(rand.NewSource(seed))}
}

// Pick 随机取一个UA
func (p *UserAgentPool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.rnd.Intn(len(p.agents))]
}

// Size 池内UA数量
func (p *UserAgentPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// ProxyPool 代理轮换池, 轮询取用
type ProxyPool struct {
	mu      sync.Mutex
	proxies []string
	next    int
}

// NewProxyPool 创建代理池
func NewProxyPool(proxies []string) *ProxyPool {
	pool := make([]string, 0, len(proxies))
	for _, proxy := range proxies {
		if strings.TrimSpace(proxy) != "" {
			pool = append(pool, strings.TrimSpace(proxy))
		}
	}
	return &ProxyPool{proxies: pool}
}

// NewProxyPoolFromFile 从文本文件加载代理池, 每行一条, #开头为注释
func NewProxyPoolFromFile(path string) (*ProxyPool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var proxies []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxies = append(proxies, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewProxyPool(proxies), nil
}

// Next 轮询取下一个代理, 池为空时返回空串
func (p *ProxyPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}
	proxy := p.proxies[p.next%len(p.proxies)]
	p.next++
	return proxy
}

// Size 池内代理数量
func (p *ProxyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}
