package metrics

import (
	"sync"
	"time"
)

// TimingAggregator 阶段耗时聚合器
// 阶段名到累计耗时的映射。池化模式下每个worker在本地累计自己的map，
// worker完成时逐键合并进编排器的聚合；串行模式只有一个map原地更新。
// 合并满足交换律与结合律，因此批内worker的到达顺序不影响结果。
// 注意：聚合值是跨并发worker的耗时之和而非墙钟时间，可以超过
// 运行的实际时长——这是定义良好的属性，不是缺陷。
type TimingAggregator struct {
	elapsed map[string]time.Duration
	mu      sync.RWMutex
}

// NewTimingAggregator 创建耗时聚合器
func NewTimingAggregator() *TimingAggregator {
	return &TimingAggregator{
		elapsed: make(map[string]time.Duration),
	}
}

// Add 累加单个阶段的耗时
func (ta *TimingAggregator) Add(stageName string, d time.Duration) {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	ta.elapsed[stageName] += d
}

// MergeMap 逐键合并一个worker上报的耗时map
func (ta *TimingAggregator) MergeMap(elapsed map[string]time.Duration) {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	for name, d := range elapsed {
		ta.elapsed[name] += d
	}
}

// Merge 合并另一个聚合器
func (ta *TimingAggregator) Merge(other *TimingAggregator) {
	if other == nil {
		return
	}
	ta.MergeMap(other.Snapshot())
}

// Get 单个阶段的累计耗时
func (ta *TimingAggregator) Get(stageName string) time.Duration {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	return ta.elapsed[stageName]
}

// Snapshot 耗时map副本
func (ta *TimingAggregator) Snapshot() map[string]time.Duration {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	snapshot := make(map[string]time.Duration, len(ta.elapsed))
	for name, d := range ta.elapsed {
		snapshot[name] = d
	}
	return snapshot
}

// Total 所有阶段累计耗时之和
func (ta *TimingAggregator) Total() time.Duration {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	var total time.Duration
	for _, d := range ta.elapsed {
		total += d
	}
	return total
}
