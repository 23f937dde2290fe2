package scheduler

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
)

// Job 到点后执行的抓取回调
type Job func(sourceName string)

// Scheduler 信息源调度器
// cron与interval型调度交给cron引擎(间隔用@every表达),
// once型用一次性定时器
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu     sync.Mutex
	timers []*time.Timer
	count  int
}

// New 创建调度器
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Register 注册一个信息源的调度
// schedule.type为空的信息源不参与调度, 返回是否注册成功
func (s *Scheduler) Register(src *config.SourceConfig, job Job) (bool, error) {
	schedule := src.Schedule
	name := src.SourceName

	switch schedule.Type {
	case "":
		return false, nil
	case config.ScheduleCron:
		if _, err := s.cron.AddFunc(schedule.Value, func() { job(name) }); err != nil {
			return false, fmt.Errorf("信息源%s的cron表达式非法 %q: %w", name, schedule.Value, err)
		}
	case config.ScheduleInterval:
		seconds, err := strconv.Atoi(schedule.Value)
		if err != nil || seconds <= 0 {
			return false, fmt.Errorf("信息源%s的间隔秒数非法: %q", name, schedule.Value)
		}
		spec := fmt.Sprintf("@every %ds", seconds)
		if _, err := s.cron.AddFunc(spec, func() { job(name) }); err != nil {
			return false, fmt.Errorf("信息源%s注册间隔调度失败: %w", name, err)
		}
	case config.ScheduleOnce:
		at, err := time.Parse(time.RFC3339, schedule.Value)
		if err != nil {
			return false, fmt.Errorf("信息源%s的执行时刻非法 %q: %w", name, schedule.Value, err)
		}
		delay := time.Until(at)
		if delay < 0 {
			s.logger.Warn().Msgf("信息源%s的执行时刻已过: %s", name, schedule.Value)
			return false, nil
		}
		timer := time.AfterFunc(delay, func() { job(name) })
		s.mu.Lock()
		s.timers = append(s.timers, timer)
		s.mu.Unlock()
	default:
		return false, fmt.Errorf("信息源%s的调度类型不支持: %s", name, schedule.Type)
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.logger.Info().Msgf("⏰ 已注册调度: %s (%s %s)", name, schedule.Type, schedule.Value)
	return true, nil
}

// Count 已注册的调度数量
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Start 启动调度循环
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度, 等待在途任务回调返回
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
	<-ctx.Done()
}
