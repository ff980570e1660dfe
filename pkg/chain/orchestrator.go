package chain

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/cpomsoft/clev2er/pkg/common"
	"github.com/cpomsoft/clev2er/pkg/common/logger"
	"github.com/cpomsoft/clev2er/pkg/components/pools"
	"github.com/cpomsoft/clev2er/pkg/config"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
	"github.com/cpomsoft/clev2er/pkg/metrics"
	"github.com/cpomsoft/clev2er/pkg/stages"
)

// Orchestrator 链运行编排器
// 驱动一次完整运行：按执行模式分发作业、汇聚结果、聚合耗时与
// 日志、保证全部阶段实例恰好终结一次。一个编排器对应一次运行，
// 不可复用
type Orchestrator struct {
	cfg        *config.RunConfig
	built      *stages.BuiltChain
	ctxManager *rcx.ContextManager
	monitor    *metrics.RunMonitor
	executor   *JobExecutor
	logAgg     *LogAggregator

	// setup错误：首个即致命，整个运行中止
	setupErr error
	setupMu  sync.Mutex

	ran atomic.Bool
}

// Option 编排器可选配置
type Option func(*Orchestrator)

// WithLogSink 设置某个严重级别的实时日志输出
// 仅池化模式有聚合器，串行模式下为空操作。覆盖同级别的默认输出
func WithLogSink(level zapcore.Level, w io.Writer) Option {
	return func(o *Orchestrator) {
		if o.logAgg != nil {
			o.logAgg.SetSink(level, w)
		}
	}
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg *config.RunConfig, built *stages.BuiltChain, ctxManager *rcx.ContextManager, opts ...Option) *Orchestrator {
	var snapshots rcx.SnapshotWriter
	if cfg.HasBreakpoint() {
		snapshots = rcx.NewJSONSnapshotWriter(cfg.SnapshotDir)
	}

	o := &Orchestrator{
		cfg:        cfg,
		built:      built,
		ctxManager: ctxManager,
		monitor:    metrics.NewRunMonitor(),
	}
	o.executor = NewJobExecutor(built.Instances, ctxManager, snapshots)

	if cfg.ExecutionMode() == common.ExecutionModePooled {
		o.logAgg = NewLogAggregator(cfg.LogBuffer)
		// 默认仅错误级别实时落到stderr，其余级别等Flush统一进主日志。
		// 调用方经WithLogSink按级别指定输出
		o.logAgg.SetSink(zapcore.ErrorLevel, os.Stderr)
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Monitor 运行监控器，供状态API读取
func (o *Orchestrator) Monitor() *metrics.RunMonitor {
	return o.monitor
}

// Run 执行一次完整的链运行
// ctx取消在作业间隙（串行）或批次边界（池化）被观察到，
// 进行中的作业运行至完成。无论运行如何结束，全部阶段实例
// （含primer）都恰好终结一次：worker实例在前，primer在后，
// 保证共享块的unlink发生在所有借用者释放之后
func (o *Orchestrator) Run(ctx context.Context, jobIDs []string) (*RunSummary, error) {
	// 编排器一次性使用：重复Run显式报错而非返回空汇总
	if !o.ran.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("orchestrator already ran, create a new one per run")
	}

	summary := &RunSummary{
		ChainName:    o.cfg.ChainName,
		ChainVersion: o.cfg.ChainVersion,
		TotalJobs:    len(jobIDs),
	}

	return summary, o.run(ctx, jobIDs, summary)
}

func (o *Orchestrator) run(ctx context.Context, jobIDs []string, summary *RunSummary) error {
	mode := o.cfg.ExecutionMode()
	logger.Infof("chain run started: chain=%s version=%s, %d jobs, mode=%s, workers=%d",
		o.cfg.ChainName, o.cfg.ChainVersion, len(jobIDs), mode, o.cfg.MaxWorkers)

	o.monitor.Start(len(jobIDs))
	start := time.Now()

	// 终结保证：作业是否为空、全部失败、被中断都不影响
	defer o.finalizeAll()

	var results []*JobResult
	switch mode {
	case common.ExecutionModePooled:
		results = o.runPooled(ctx, jobIDs, summary)
	default:
		results = o.runSequential(ctx, jobIDs, summary)
	}

	o.tally(results, summary)
	summary.Duration = time.Since(start)
	o.monitor.Stop()

	logger.Infof("chain run finished: processed=%d skipped=%d errored=%d interrupted=%v duration=%v",
		summary.Processed, summary.Skipped, summary.Errored, summary.Interrupted, summary.Duration)

	if err := o.takeSetupErr(); err != nil {
		return fmt.Errorf("run aborted by setup error: %w", err)
	}
	return nil
}

// runSequential 串行模式：单协程逐作业处理
// stop_on_error只在串行模式生效：某作业出错后剩余作业不再尝试
func (o *Orchestrator) runSequential(ctx context.Context, jobIDs []string, summary *RunSummary) []*JobResult {
	results := make([]*JobResult, 0, len(jobIDs))

	for _, jobID := range jobIDs {
		// 中断只在作业间隙被观察到
		select {
		case <-ctx.Done():
			summary.Interrupted = true
			logger.Warnf("run interrupted, %d jobs remaining", len(jobIDs)-len(results))
			return results
		default:
		}

		jlog := NewJobLogger(nil, jobID)
		result, setupErr := o.executor.Execute(jobID, jlog)
		results = append(results, result)

		if setupErr != nil {
			o.recordSetupErr(setupErr)
			return results
		}

		if o.cfg.StopOnError && result.Outcome == common.JobErrored {
			logger.Warnf("stop_on_error: job %s failed at stage %s, remaining jobs not attempted",
				jobID, result.FailedStage)
			return results
		}
	}

	return results
}

// runPooled 池化模式：作业分批，批内并发、批间严格串行
// 每个worker经专属的一次性通道上报结果，通道关闭而无结果视为
// worker异常终止，合成一个出错结果而非静默漏计
func (o *Orchestrator) runPooled(ctx context.Context, jobIDs []string, summary *RunSummary) []*JobResult {
	o.logAgg.Start()
	defer func() {
		o.logAgg.Close()
		o.logAgg.Flush()
	}()

	// 池不继承运行ctx：中断只在批次边界生效，已入队的批内作业
	// 必须运行至完成，否则其结果通道永远不会关闭
	pool := pools.NewBatchPool(context.Background(), pools.BatchPoolConfig{
		Name:      o.cfg.ChainName,
		Workers:   o.cfg.MaxWorkers,
		QueueSize: o.cfg.MaxWorkers,
	})
	defer pool.Close()

	batches := partitionJobs(jobIDs, o.cfg.MaxWorkers)
	logger.Infof("pooled run: %d jobs in %d batches of up to %d workers",
		len(jobIDs), len(batches), o.cfg.MaxWorkers)

	results := make([]*JobResult, 0, len(jobIDs))

	for k, batch := range batches {
		// 中断只在批次边界被观察到，批内worker运行至完成
		select {
		case <-ctx.Done():
			summary.Interrupted = true
			logger.Warnf("run interrupted at batch %d/%d", k+1, len(batches))
			return results
		default:
		}

		// setup错误致命：不再开始后续批次
		if o.peekSetupErr() != nil {
			return results
		}

		logger.Debugf("batch %d/%d started, %d jobs", k+1, len(batches), len(batch))
		results = append(results, o.runBatch(pool, batch)...)
	}

	return results
}

// runBatch 执行单个批次并按提交顺序收集结果
func (o *Orchestrator) runBatch(pool *pools.BatchPool, batch []string) []*JobResult {
	resultChans := make([]chan *JobResult, len(batch))

	for i, jobID := range batch {
		ch := make(chan *JobResult, 1)
		resultChans[i] = ch

		jobID := jobID
		submitted := pool.Submit(func() {
			defer close(ch)

			jlog := NewJobLogger(o.logAgg, jobID)
			result, setupErr := o.executor.Execute(jobID, jlog)
			if setupErr != nil {
				o.recordSetupErr(setupErr)
			}
			ch <- result
		})

		if !submitted {
			close(ch)
		}
	}

	// 批间严格串行：收齐本批全部结果才返回
	results := make([]*JobResult, 0, len(batch))
	for i, ch := range resultChans {
		result, ok := <-ch
		if !ok {
			// worker异常终止：通道关闭而无结果
			result = &JobResult{
				JobID:   batch[i],
				Outcome: common.JobErrored,
				Status:  "worker terminated without reporting a result",
			}
			logger.Errorf("job %s: worker terminated without a result, recorded as errored", batch[i])
		}
		results = append(results, result)
	}

	return results
}

// tally 汇总作业结果：计数与耗时聚合
// 计数与耗时合并满足交换律，worker的上报顺序不影响汇总
func (o *Orchestrator) tally(results []*JobResult, summary *RunSummary) {
	for _, result := range results {
		switch result.Outcome {
		case common.JobSkipped:
			o.monitor.RecordSkipped()
		case common.JobErrored:
			o.monitor.RecordErrored()
		default:
			o.monitor.RecordProcessed()
		}
		o.monitor.Timing().MergeMap(result.PerStageElapsed)
	}

	summary.Processed = int(o.monitor.Processed())
	summary.Skipped = int(o.monitor.Skipped())
	summary.Errored = int(o.monitor.Errored())
	summary.StageElapsed = o.monitor.Timing().Snapshot()
	summary.Results = results
}

// finalizeAll 终结全部阶段实例
// worker实例在前、primer在后：Borrower释放共享块后Owner才unlink
func (o *Orchestrator) finalizeAll() {
	for _, instance := range o.built.Instances {
		instance.Finalize()
	}
	for _, primer := range o.built.Primers {
		primer.Finalize()
	}
	logger.Debugf("all stage instances finalized (%d workers, %d primers)",
		len(o.built.Instances), len(o.built.Primers))
}

func (o *Orchestrator) recordSetupErr(err error) {
	o.setupMu.Lock()
	defer o.setupMu.Unlock()

	if o.setupErr == nil {
		o.setupErr = err
	}
}

func (o *Orchestrator) peekSetupErr() error {
	o.setupMu.Lock()
	defer o.setupMu.Unlock()

	return o.setupErr
}

func (o *Orchestrator) takeSetupErr() error {
	return o.peekSetupErr()
}

// partitionJobs 作业分批：N个作业按批大小M切成ceil(N/M)个批次
func partitionJobs(jobIDs []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}

	batches := make([][]string, 0, (len(jobIDs)+size-1)/size)
	for start := 0; start < len(jobIDs); start += size {
		end := start + size
		if end > len(jobIDs) {
			end = len(jobIDs)
		}
		batches = append(batches, jobIDs[start:end])
	}
	return batches
}
