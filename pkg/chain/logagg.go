package chain

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// Record 一条作业日志记录
// Seq是作业内单调递增序号，排序合并时用于保持单作业内的原始顺序
type Record struct {
	JobID   string        `json:"job_id"`
	Seq     int64         `json:"seq"`
	Level   zapcore.Level `json:"level"`
	Time    time.Time     `json:"time"`
	Message string        `json:"message"`
}

// LogAggregator 池化模式日志聚合器
// 并发worker的日志先经通道收集，运行期间按严重级别实时写入
// 对应sink（交错顺序，用于在线观察），运行结束后Flush按作业
// 分组排序写入主日志（可读顺序）。串行模式不需要聚合器，
// 阶段日志直接进主日志。
type LogAggregator struct {
	records chan *Record

	// 运行期间按严重级别实时写出
	sinks   map[zapcore.Level]io.Writer
	sinksMu sync.RWMutex

	// 消费协程收集的全部记录
	collected []*Record

	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// NewLogAggregator 创建日志聚合器
func NewLogAggregator(buffer int) *LogAggregator {
	if buffer <= 0 {
		buffer = 1024
	}
	return &LogAggregator{
		records: make(chan *Record, buffer),
		sinks:   make(map[zapcore.Level]io.Writer),
		done:    make(chan struct{}),
	}
}

// SetSink 设置某个严重级别的实时输出
// 必须在Start之前调用
func (la *LogAggregator) SetSink(level zapcore.Level, w io.Writer) {
	la.sinksMu.Lock()
	defer la.sinksMu.Unlock()

	la.sinks[level] = w
}

// Start 启动消费协程
func (la *LogAggregator) Start() {
	if !la.started.CompareAndSwap(false, true) {
		return
	}

	go la.consume()
}

// consume 消费日志通道直到通道关闭
func (la *LogAggregator) consume() {
	defer close(la.done)

	for record := range la.records {
		la.collected = append(la.collected, record)
		la.writeSink(record)
	}
}

// writeSink 按严重级别实时写出单条记录
func (la *LogAggregator) writeSink(record *Record) {
	la.sinksMu.RLock()
	w, ok := la.sinks[record.Level]
	la.sinksMu.RUnlock()

	if !ok {
		return
	}

	line := fmt.Sprintf("[%s] [%s] job=%s %s\n",
		record.Time.Format("2006-01-02 15:04:05.000"),
		record.Level.CapitalString(), record.JobID, record.Message)
	if _, err := w.Write([]byte(line)); err != nil {
		logger.Warnf("log sink write failed for level %s: %v", record.Level, err)
	}
}

// submit 提交一条记录，聚合器关闭后丢弃
func (la *LogAggregator) submit(record *Record) {
	if la.closed.Load() {
		return
	}
	la.records <- record
}

// Close 关闭日志通道并等待消费协程退出
// 关闭通道即结束哨兵：消费协程读完剩余记录后退出
func (la *LogAggregator) Close() {
	if !la.closed.CompareAndSwap(false, true) {
		return
	}

	close(la.records)
	if la.started.Load() {
		<-la.done
	}
}

// Flush 运行结束后把收集的记录按作业分组写入主日志
// 先按JobID再按作业内序号排序：同一作业的日志在主日志中连续出现。
// 必须在Close之后调用
func (la *LogAggregator) Flush() {
	if !la.closed.Load() {
		logger.Warnf("log aggregator flush called before close, skipping")
		return
	}

	sort.SliceStable(la.collected, func(i, j int) bool {
		if la.collected[i].JobID != la.collected[j].JobID {
			return la.collected[i].JobID < la.collected[j].JobID
		}
		return la.collected[i].Seq < la.collected[j].Seq
	})

	for _, record := range la.collected {
		msg := fmt.Sprintf("[job %s] %s", record.JobID, record.Message)
		switch record.Level {
		case zapcore.DebugLevel:
			logger.Debug(msg)
		case zapcore.WarnLevel:
			logger.Warn(msg)
		case zapcore.ErrorLevel:
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
	}

	logger.Infof("log aggregator flushed %d records", len(la.collected))
}

// Records 已收集记录的数量
func (la *LogAggregator) Records() int {
	return len(la.collected)
}

// JobLogger 单作业日志器
// 每个作业一个实例，只在处理该作业的worker协程内使用，
// 序号递增无需加锁
type JobLogger struct {
	agg   *LogAggregator
	jobID string
	seq   int64
}

// NewJobLogger 创建作业日志器
// agg为nil时日志直接写入主日志（串行模式）
func NewJobLogger(agg *LogAggregator, jobID string) *JobLogger {
	return &JobLogger{
		agg:   agg,
		jobID: jobID,
	}
}

func (jl *JobLogger) log(level zapcore.Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	if jl.agg == nil {
		switch level {
		case zapcore.DebugLevel:
			logger.Debugf("[job %s] %s", jl.jobID, msg)
		case zapcore.WarnLevel:
			logger.Warnf("[job %s] %s", jl.jobID, msg)
		case zapcore.ErrorLevel:
			logger.Errorf("[job %s] %s", jl.jobID, msg)
		default:
			logger.Infof("[job %s] %s", jl.jobID, msg)
		}
		return
	}

	jl.seq++
	jl.agg.submit(&Record{
		JobID:   jl.jobID,
		Seq:     jl.seq,
		Level:   level,
		Time:    time.Now(),
		Message: msg,
	})
}

// Debugf ...
func (jl *JobLogger) Debugf(format string, args ...interface{}) {
	jl.log(zapcore.DebugLevel, format, args...)
}

// Infof ...
func (jl *JobLogger) Infof(format string, args ...interface{}) {
	jl.log(zapcore.InfoLevel, format, args...)
}

// Warnf ...
func (jl *JobLogger) Warnf(format string, args ...interface{}) {
	jl.log(zapcore.WarnLevel, format, args...)
}

// Errorf ...
func (jl *JobLogger) Errorf(format string, args ...interface{}) {
	jl.log(zapcore.ErrorLevel, format, args...)
}
