package chain

import (
	"fmt"
	"time"

	"github.com/cpomsoft/clev2er/pkg/common"
	"github.com/cpomsoft/clev2er/pkg/common/logger"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
	"github.com/cpomsoft/clev2er/pkg/stages"
)

// JobExecutor 单作业执行器
// 对一个作业按链内顺序运行全部阶段实例，在首个非成功结果处停止。
// 实例只读共享，执行器本身无作业级状态，可被多个worker并发调用
type JobExecutor struct {
	instances  []*stages.Instance
	ctxManager *rcx.ContextManager
	snapshots  rcx.SnapshotWriter
}

// NewJobExecutor 创建作业执行器
func NewJobExecutor(instances []*stages.Instance, ctxManager *rcx.ContextManager, snapshots rcx.SnapshotWriter) *JobExecutor {
	return &JobExecutor{
		instances:  instances,
		ctxManager: ctxManager,
		snapshots:  snapshots,
	}
}

// Execute 执行单个作业
// 返回的error仅在setup错误时非nil：setup错误对整个运行致命，
// 编排器据此中止。阶段处理错误不向上传播，体现在JobResult中。
// 阶段panic被捕获并归类为该作业出错，不影响其他作业。
func (je *JobExecutor) Execute(jobID string, jlog *JobLogger) (*JobResult, error) {
	wc := rcx.AcquireWorkingContext(jobID, je.ctxManager)
	defer rcx.ReleaseWorkingContext(wc)

	result := &JobResult{
		JobID:   jobID,
		Outcome: common.JobProcessed,
		Status:  "processed",
	}

	jlog.Infof("job started, %d stages", len(je.instances))
	jobStart := time.Now()

	for _, instance := range je.instances {
		stageName := instance.Name()

		err := je.executeStage(instance, jobID, wc)

		if err != nil {
			// setup错误：惰性初始化失败，对整个运行致命
			if stages.IsSetup(err) {
				result.Outcome = common.JobErrored
				result.Status = err.Error()
				result.FailedStage = stageName
				result.PerStageElapsed = wc.ElapsedSnapshot()
				jlog.Errorf("stage %s setup failed: %v", stageName, err)
				return result, err
			}

			// 良性跳过：作业对本链不适用，属于正常处理结果
			if stages.IsSkip(err) {
				result.Outcome = common.JobSkipped
				result.Status = err.Error()
				jlog.Infof("job skipped at stage %s: %s", stageName, err.Error())
				break
			}

			// 阶段处理错误：本作业出错，停止后续阶段
			result.Outcome = common.JobErrored
			result.Status = err.Error()
			result.FailedStage = stageName
			jlog.Errorf("stage %s failed: %v", stageName, err)
			break
		}

		// 断点：阶段成功后写出快照并受控停止，作业计入成功处理
		if instance.Descriptor().Breakpoint {
			result.BreakpointHit = true
			result.Status = fmt.Sprintf("stopped at breakpoint %s", stageName)
			if je.snapshots != nil {
				if snapErr := je.snapshots.WriteSnapshot(stageName, wc); snapErr != nil {
					logger.Warnf("snapshot write failed for job %s: %v", jobID, snapErr)
				}
			}
			jlog.Infof("breakpoint reached after stage %s", stageName)
			break
		}
	}

	result.PerStageElapsed = wc.ElapsedSnapshot()

	jlog.Infof("job finished: outcome=%s, elapsed=%v", result.Outcome, time.Since(jobStart))
	return result, nil
}

// executeStage 执行单个阶段并记录耗时
// 耗时在成功、跳过、出错乃至panic时都会记录
func (je *JobExecutor) executeStage(instance *stages.Instance, jobID string, wc *rcx.WorkingContext) (err error) {
	start := time.Now()

	defer func() {
		wc.RecordStageElapsed(instance.Name(), time.Since(start))

		if r := recover(); r != nil {
			logger.Errorf("stage %s panic on job %s: %v", instance.Name(), jobID, r)
			err = fmt.Errorf("stage %s panicked: %v", instance.Name(), r)
		}
	}()

	return instance.Execute(jobID, wc)
}
