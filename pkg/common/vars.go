package common

import "strings"

// ExecutionMode 链的执行模式
type ExecutionMode string

const (
	// ExecutionModeSequential 串行执行模式
	// 单协程按顺序处理作业，无需任何并发原语
	ExecutionModeSequential ExecutionMode = "sequential"

	// ExecutionModePooled 池化执行模式
	// 作业按批次分组，每批最多max_workers个worker并发处理
	// 批次之间严格串行，批内无序
	ExecutionModePooled ExecutionMode = "pooled"
)

// JobOutcome 单个作业的处理结果分类
type JobOutcome string

const (
	// JobProcessed 作业完整走完所有阶段（或在断点处受控停止）
	JobProcessed JobOutcome = "processed"

	// JobSkipped 作业被某个阶段以良性跳过标记主动放弃，不计为错误
	JobSkipped JobOutcome = "skipped"

	// JobErrored 作业因阶段失败或异常而中止
	JobErrored JobOutcome = "errored"
)

// SkipMarker 良性跳过的保留状态前缀
// 阶段在状态串中携带该前缀表示作业不在本阶段的处理范围内，
// 属于合法的领域原因，与错误严格区分
const SkipMarker = "SKIP_OK"

// IsSkipStatus 判断状态串是否携带良性跳过标记
func IsSkipStatus(status string) bool {
	return strings.HasPrefix(status, SkipMarker)
}
