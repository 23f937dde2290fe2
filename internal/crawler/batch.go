package crawler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
)

// 内存高于该值时批量并发翻倍
const memoryBoostThreshold = 8 * 1024 * 1024 * 1024

// SourceResult 批量运行中单个信息源的结果
type SourceResult struct {
	Name    string
	Summary *Summary
	Err     error
}

// BatchResult 批量运行结果
// Totals只累计成功跑完的信息源
type BatchResult struct {
	Results []SourceResult
	Totals  Summary
}

// HasFailures 是否有信息源以错误收场
func (r *BatchResult) HasFailures() bool {
	for _, result := range r.Results {
		if result.Err != nil {
			return true
		}
	}
	return false
}

// batchConcurrency 批量并发度
// 基准为min(CPU核数, 信息源数); 系统内存超过8GB时翻倍,
// 上限min(2*信息源数, 2*CPU核数), 下限1
func batchConcurrency(nsources int, totalMemory uint64, cpus int) int {
	if nsources <= 0 {
		return 1
	}
	base := cpus
	if nsources < base {
		base = nsources
	}
	concurrency := base
	if totalMemory > memoryBoostThreshold {
		concurrency = base * 2
		if limit := nsources * 2; concurrency > limit {
			concurrency = limit
		}
		if limit := cpus * 2; concurrency > limit {
			concurrency = limit
		}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return concurrency
}

func detectConcurrency(nsources int) int {
	var totalMemory uint64
	if vmStat, err := mem.VirtualMemory(); err == nil {
		totalMemory = vmStat.Total
	}
	return batchConcurrency(nsources, totalMemory, runtime.NumCPU())
}

// RunAll 并发跑全部信息源, 单源失败不影响其他源
func (o *Orchestrator) RunAll(opts RunOptions) (*BatchResult, error) {
	names, err := o.repo.ListSources()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("信息源目录为空: %s", o.global.SourcesDir)
	}

	concurrency := detectConcurrency(len(names))
	o.logger.Info().Msgf("🚦 批量抓取%d个信息源, 并发度%d", len(names), concurrency)

	// 批量模式不开进度条, 避免多源输出交织
	runOpts := RunOptions{Window: opts.Window, ShowProgress: false}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []SourceResult
	)
	sem := make(chan struct{}, concurrency)
	for _, name := range names {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			summary, err := o.runSourceGuarded(name, runOpts)
			mu.Lock()
			results = append(results, SourceResult{Name: name, Summary: summary, Err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	batch := &BatchResult{Results: results}
	for _, result := range results {
		if result.Err != nil {
			o.logger.Error().Err(result.Err).Str("source", result.Name).Msg("信息源抓取失败")
			continue
		}
		batch.Totals.Success += result.Summary.Success
		batch.Totals.Failed += result.Summary.Failed
		batch.Totals.Skipped += result.Summary.Skipped
		batch.Totals.WindowFiltered += result.Summary.WindowFiltered
	}
	o.logger.Info().Msgf("🏁 批量完成: 成功%d 失败%d 跳过%d (窗外%d)",
		batch.Totals.Success, batch.Totals.Failed, batch.Totals.Skipped, batch.Totals.WindowFiltered)
	return batch, nil
}

// runSourceGuarded 单源运行带panic隔离, 崩溃转错误
func (o *Orchestrator) runSourceGuarded(name string, opts RunOptions) (summary *Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			if summary == nil {
				summary = &Summary{}
			}
			err = fmt.Errorf("信息源%s运行崩溃: %v", name, r)
		}
	}()
	return o.RunSource(name, opts)
}
