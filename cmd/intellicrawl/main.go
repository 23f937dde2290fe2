package main

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/intellicrawl/internal/config"
	"github.com/RecoveryAshes/intellicrawl/internal/crawler"
	"github.com/RecoveryAshes/intellicrawl/internal/scheduler"
	"github.com/RecoveryAshes/intellicrawl/internal/utils"
)

const version = "1.0.0"

var (
	cfgFile  string
	logLevel string
	quiet    bool

	flagSince          string
	flagUntil          string
	flagWindowStart    string
	flagWindowDuration string

	globalCfg *config.GlobalConfig
)

var rootCmd = &cobra.Command{
	Use:   "intellicrawl",
	Short: "多信息源智能抓取工具",
	Long: `intellicrawl - 配置驱动的多信息源抓取工具

按YAML配置定义信息源, 内建反爬策略链(UA轮换/代理/延迟/无头浏览器),
支持增量抓取、去重、时间窗过滤与多种导出格式。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadGlobal(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		globalCfg = cfg

		logCfg := utils.DefaultLogConfig()
		logCfg.Level = cfg.LogLevel
		logCfg.LogDir = cfg.LogDir
		logCfg.Quiet = quiet
		return utils.InitLogger(logCfg)
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <信息源名>",
	Short: "抓取单个信息源",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := buildWindow()
		if err != nil {
			return err
		}

		orch := crawler.New(config.NewRepository(globalCfg))
		defer orch.Close()

		summary, err := orch.RunSource(args[0], crawler.RunOptions{
			Window:       window,
			ShowProgress: !quiet,
		})
		if err != nil {
			return err
		}
		printSummary(args[0], summary)
		return nil
	},
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "并发抓取全部信息源",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := buildWindow()
		if err != nil {
			return err
		}

		orch := crawler.New(config.NewRepository(globalCfg))
		defer orch.Close()

		batch, err := orch.RunAll(crawler.RunOptions{Window: window})
		if err != nil {
			return err
		}

		fmt.Println("=========== 批量抓取结果 ===========")
		for _, result := range batch.Results {
			if result.Err != nil {
				fmt.Printf("  ✗ %-20s %v\n", result.Name, result.Err)
				continue
			}
			fmt.Printf("  ✓ %-20s 成功%d 失败%d 跳过%d\n",
				result.Name, result.Summary.Success, result.Summary.Failed, result.Summary.Skipped)
		}
		fmt.Printf("合计: 成功%d 失败%d 跳过%d (窗外%d)\n",
			batch.Totals.Success, batch.Totals.Failed,
			batch.Totals.Skipped, batch.Totals.WindowFiltered)

		if batch.HasFailures() {
			return fmt.Errorf("部分信息源抓取失败")
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <信息源名>",
	Short: "查看信息源抓取历史",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch := crawler.New(config.NewRepository(globalCfg))
		defer orch.Close()

		entries, err := orch.ViewHistory(args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("信息源%s暂无抓取历史\n", args[0])
			return nil
		}
		fmt.Printf("信息源%s最近%d条历史:\n", args[0], len(entries))
		for _, entry := range entries {
			fmt.Printf("  %s  %s\n", entry.Timestamp, entry.URL)
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <信息源名>",
	Short: "清空信息源抓取历史",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch := crawler.New(config.NewRepository(globalCfg))
		defer orch.Close()

		if err := orch.ResetHistory(args[0]); err != nil {
			return err
		}
		fmt.Printf("已清空信息源%s的抓取历史\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已配置的信息源",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := config.NewRepository(globalCfg)
		names, err := repo.ListSources()
		if err != nil {
			return err
		}
		for _, name := range names {
			src, err := repo.LoadSource(name)
			if err != nil {
				fmt.Printf("  %-20s (配置非法: %v)\n", name, err)
				continue
			}
			fmt.Printf("  %-20s %-8s %s\n", name, src.SiteType, src.TargetURL)
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "按配置调度各信息源持续抓取",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := config.NewRepository(globalCfg)
		orch := crawler.New(repo)
		defer orch.Close()

		names, err := repo.ListSources()
		if err != nil {
			return err
		}

		sched := scheduler.New(utils.Named("scheduler"))
		job := func(name string) {
			summary, err := orch.RunSource(name, crawler.RunOptions{})
			if err != nil {
				utils.Errorf("调度抓取%s失败: %v", name, err)
				return
			}
			utils.Infof("调度抓取%s完成: 成功%d 失败%d 跳过%d",
				name, summary.Success, summary.Failed, summary.Skipped)
		}
		for _, name := range names {
			src, err := repo.LoadSource(name)
			if err != nil {
				utils.Warnf("跳过配置非法的信息源%s: %v", name, err)
				continue
			}
			if _, err := sched.Register(src, job); err != nil {
				return err
			}
		}
		if sched.Count() == 0 {
			return fmt.Errorf("没有信息源配置了调度, 检查各配置的schedule段")
		}

		sched.Start()
		utils.Infof("调度器已启动, %d个调度在册, Ctrl+C退出", sched.Count())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		utils.Info("收到退出信号, 停止调度")
		sched.Stop()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本号",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("intellicrawl v%s\n", version)
	},
}

// printSummary 单源结果输出
func printSummary(name string, summary *crawler.Summary) {
	fmt.Println("=========== 抓取结果 ===========")
	fmt.Printf("  信息源:   %s\n", name)
	fmt.Printf("  成功:     %d\n", summary.Success)
	fmt.Printf("  失败:     %d\n", summary.Failed)
	fmt.Printf("  跳过:     %d\n", summary.Skipped)
	fmt.Printf("  时间窗外: %d\n", summary.WindowFiltered)
}

// buildWindow 由命令行旗标构造时间窗
// --since/--until 绝对区间; --window-start加--window-duration 相对区间
func buildWindow() (*crawler.CrawlWindow, error) {
	if flagSince == "" && flagWindowStart == "" {
		if flagUntil != "" || flagWindowDuration != "" {
			return nil, fmt.Errorf("--until/--window-duration需要配合--since或--window-start使用")
		}
		return nil, nil
	}
	if flagSince != "" && flagWindowStart != "" {
		return nil, fmt.Errorf("--since与--window-start不可同时使用")
	}

	if flagSince != "" {
		start, err := parseTimeFlag(flagSince)
		if err != nil {
			return nil, fmt.Errorf("--since非法: %w", err)
		}
		end := time.Now().UTC()
		if flagUntil != "" {
			if end, err = parseTimeFlag(flagUntil); err != nil {
				return nil, fmt.Errorf("--until非法: %w", err)
			}
		}
		return crawler.NewCrawlWindow(start, end)
	}

	start, err := parseClockFlag(flagWindowStart)
	if err != nil {
		return nil, fmt.Errorf("--window-start非法: %w", err)
	}
	duration := 24 * time.Hour
	if flagWindowDuration != "" {
		if duration, err = parseDurationFlag(flagWindowDuration); err != nil {
			return nil, fmt.Errorf("--window-duration非法: %w", err)
		}
	}
	return crawler.NewCrawlWindow(start, start.Add(duration))
}

var timeFlagLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimeFlag(s string) (time.Time, error) {
	for _, layout := range timeFlagLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("无法识别的时间: %q", s)
}

// parseClockFlag "HH:MM"或完整时间, HH:MM取今天(UTC)
func parseClockFlag(s string) (time.Time, error) {
	if t, err := time.Parse("15:04", s); err == nil {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
	}
	return parseTimeFlag(s)
}

var durationPattern = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// parseDurationFlag 支持天数的时长写法, 如 90m / 1d6h / 36h
func parseDurationFlag(s string) (time.Duration, error) {
	match := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil || (match[1] == "" && match[2] == "" && match[3] == "" && match[4] == "") {
		return 0, fmt.Errorf("无法识别的时长: %q", s)
	}
	var total time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if match[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(match[i+1])
		if err != nil {
			return 0, err
		}
		total += time.Duration(n) * unit
	}
	if total <= 0 {
		return 0, fmt.Errorf("时长必须为正: %q", s)
	}
	return total, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "全局配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别(trace/debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式, 控制台仅输出警告及以上")

	for _, cmd := range []*cobra.Command{runCmd, runAllCmd} {
		cmd.Flags().StringVar(&flagSince, "since", "", "时间窗开始, 如 2026-08-01 或 RFC3339")
		cmd.Flags().StringVar(&flagUntil, "until", "", "时间窗结束, 缺省为当前时刻")
		cmd.Flags().StringVar(&flagWindowStart, "window-start", "", "时间窗开始时刻(HH:MM, UTC当天)")
		cmd.Flags().StringVar(&flagWindowDuration, "window-duration", "", "时间窗时长, 如 90m / 36h / 1d6h")
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "显示条数")

	rootCmd.AddCommand(runCmd, runAllCmd, historyCmd, resetCmd, listCmd, scheduleCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
