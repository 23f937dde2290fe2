package fetcher

import (
	"testing"
)

// TestAutoTracker 测试自动加载推进判定:
// 条目数增长清零停滞计数, 连续停滞或跑满轮数即停
func TestAutoTracker(t *testing.T) {
	tests := []struct {
		name       string
		maxRounds  int
		stallLimit int
		initial    int
		counts     []int // 每轮交互后观察到的条目数, 超出部分按末值停滞
		wantRounds int
	}{
		{
			name:       "持续增长跑满轮数",
			maxRounds:  5,
			stallLimit: 3,
			counts:     []int{10, 20, 30, 40, 50},
			wantRounds: 5,
		},
		{
			name:       "一直停滞提前收手",
			maxRounds:  20,
			stallLimit: 3,
			initial:    10,
			counts:     []int{10, 10, 10},
			wantRounds: 3,
		},
		{
			name:       "增长后停滞",
			maxRounds:  20,
			stallLimit: 2,
			counts:     []int{10, 20, 20, 20},
			wantRounds: 4,
		},
		{
			name:       "停滞后恢复增长再停",
			maxRounds:  20,
			stallLimit: 2,
			counts:     []int{10, 10, 20, 20, 20},
			wantRounds: 5,
		},
		{
			name:       "条目数回落视为停滞",
			maxRounds:  20,
			stallLimit: 2,
			initial:    30,
			counts:     []int{20, 10},
			wantRounds: 2,
		},
		{
			name:       "轮数上限为零不执行",
			maxRounds:  0,
			stallLimit: 3,
			wantRounds: 0,
		},
		{
			name:       "停滞上限为零不执行",
			maxRounds:  5,
			stallLimit: 0,
			wantRounds: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newAutoTracker(tt.maxRounds, tt.stallLimit, tt.initial)
			rounds := 0
			for tracker.Continue() {
				count := tt.initial
				if len(tt.counts) > 0 {
					if rounds < len(tt.counts) {
						count = tt.counts[rounds]
					} else {
						count = tt.counts[len(tt.counts)-1]
					}
				}
				rounds++
				tracker.Observe(count)
				if rounds > tt.maxRounds {
					t.Fatalf("执行轮数超过上限%d", tt.maxRounds)
				}
			}
			if rounds != tt.wantRounds {
				t.Errorf("执行轮数 = %d, want %d", rounds, tt.wantRounds)
			}
		})
	}
}
