package crawler

import (
	"sync"
)

// WorkerPool 固定大小的任务池
// 任务回调携带工作者编号(从1起), 浏览器会话按该编号隔离
type WorkerPool struct {
	workers int
	tasks   chan func(workerID int)
	wg      sync.WaitGroup
	once    sync.Once
}

func newWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(int), workers*4),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for task := range p.tasks {
				task(id)
			}
		}(i + 1)
	}
	return p
}

// Submit 提交任务, 池满时阻塞
func (p *WorkerPool) Submit(task func(workerID int)) {
	p.tasks <- task
}

// Workers 池内工作者数量
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Shutdown 停止接收任务并等待在途任务完成, 幂等
func (p *WorkerPool) Shutdown() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

// WorkerPoolManager 按信息源缓存任务池
// 同名信息源跨运行复用同一个池; 需要的池大小变化时重建
type WorkerPoolManager struct {
	mu    sync.Mutex
	pools map[string]*WorkerPool
}

// NewWorkerPoolManager 创建任务池管理器
func NewWorkerPoolManager() *WorkerPoolManager {
	return &WorkerPoolManager{pools: make(map[string]*WorkerPool)}
}

// Get 取(或创建)指定信息源的任务池
func (m *WorkerPoolManager) Get(sourceName string, workers int) *WorkerPool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[sourceName]; ok {
		if pool.Workers() == workers {
			return pool
		}
		pool.Shutdown()
	}
	pool := newWorkerPool(workers)
	m.pools[sourceName] = pool
	return pool
}

// Shutdown 关闭所有任务池
func (m *WorkerPoolManager) Shutdown() {
	m.mu.Lock()
	pools := make([]*WorkerPool, 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, pool)
	}
	m.pools = make(map[string]*WorkerPool)
	m.mu.Unlock()

	for _, pool := range pools {
		pool.Shutdown()
	}
}
