package chain

import (
	"time"

	"github.com/cpomsoft/clev2er/pkg/common"
)

// JobResult 单个作业的执行结果
type JobResult struct {
	JobID   string            `json:"job_id"`
	Outcome common.JobOutcome `json:"outcome"`

	// Status 人类可读的结果描述
	// 良性跳过时以跳过标记为前缀，出错时为错误消息
	Status string `json:"status"`

	// FailedStage 作业出错时的阶段名，成功时为空
	FailedStage string `json:"failed_stage,omitempty"`

	// PerStageElapsed 本作业各阶段的处理耗时
	PerStageElapsed map[string]time.Duration `json:"per_stage_elapsed"`

	// BreakpointHit 是否在断点阶段后受控停止
	BreakpointHit bool `json:"breakpoint_hit"`
}

// Succeeded 作业是否成功（含良性跳过）
func (jr *JobResult) Succeeded() bool {
	return jr.Outcome != common.JobErrored
}

// RunSummary 一次链运行的汇总结果
type RunSummary struct {
	ChainName    string `json:"chain_name"`
	ChainVersion string `json:"chain_version"`

	// 作业计数：Processed是"已尝试"语义，跳过和出错的作业同样计入
	TotalJobs int `json:"total_jobs"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`

	// Interrupted 运行是否被中断信号提前终止
	Interrupted bool `json:"interrupted"`

	// StageElapsed 跨全部作业聚合的各阶段累计耗时
	// 池化模式下是并发worker耗时之和，可以超过墙钟时长
	StageElapsed map[string]time.Duration `json:"stage_elapsed"`

	// Duration 运行墙钟时长
	Duration time.Duration `json:"duration"`

	// Results 按提交顺序排列的全部作业结果
	Results []*JobResult `json:"results"`
}

// Failed 运行是否失败：任何一个作业出错即为失败
func (rs *RunSummary) Failed() bool {
	return rs.Errored > 0
}
