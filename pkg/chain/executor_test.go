package chain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpomsoft/clev2er/pkg/common"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
	"github.com/cpomsoft/clev2er/pkg/stages"
)

// buildInstances 按顺序构造已初始化的阶段实例
func buildInstances(t *testing.T, fns map[string]func(string, *rcx.WorkingContext) error, order ...string) []*stages.Instance {
	t.Helper()

	instances := make([]*stages.Instance, 0, len(order))
	for i, name := range order {
		stage := stages.NewFuncStage(name, fns[name])
		instance := stages.NewInstance(stage, stages.Descriptor{Name: name, Position: i}, stages.InitAtBuild)
		require.NoError(t, instance.EnsureInit())
		instances = append(instances, instance)
	}
	return instances
}

func TestJobExecutor_AllStagesSucceed(t *testing.T) {
	var order []string
	fns := map[string]func(string, *rcx.WorkingContext) error{
		"s1": func(jobID string, wc *rcx.WorkingContext) error {
			order = append(order, "s1")
			wc.Set("from_s1", jobID)
			return nil
		},
		"s2": func(jobID string, wc *rcx.WorkingContext) error {
			order = append(order, "s2")
			// 前序阶段写入的键对后续阶段可见
			if !wc.Has("from_s1") {
				return errors.New("missing key from s1")
			}
			return nil
		},
	}

	executor := NewJobExecutor(buildInstances(t, fns, "s1", "s2"), nil, nil)
	result, setupErr := executor.Execute("job-1", NewJobLogger(nil, "job-1"))

	require.NoError(t, setupErr)
	assert.Equal(t, common.JobProcessed, result.Outcome)
	assert.Equal(t, []string{"s1", "s2"}, order)
	assert.Contains(t, result.PerStageElapsed, "s1")
	assert.Contains(t, result.PerStageElapsed, "s2")
}

func TestJobExecutor_StopsAtFirstFailure(t *testing.T) {
	var s3Ran bool
	fns := map[string]func(string, *rcx.WorkingContext) error{
		"s1": func(string, *rcx.WorkingContext) error { return nil },
		"s2": func(string, *rcx.WorkingContext) error { return errors.New("bad data") },
		"s3": func(string, *rcx.WorkingContext) error { s3Ran = true; return nil },
	}

	executor := NewJobExecutor(buildInstances(t, fns, "s1", "s2", "s3"), nil, nil)
	result, setupErr := executor.Execute("job-1", NewJobLogger(nil, "job-1"))

	require.NoError(t, setupErr)
	assert.Equal(t, common.JobErrored, result.Outcome)
	assert.Equal(t, "s2", result.FailedStage)
	assert.Contains(t, result.Status, "bad data")
	assert.False(t, s3Ran, "stage after failure must not run")

	// 失败阶段的耗时仍被记录
	assert.Contains(t, result.PerStageElapsed, "s2")
}

func TestJobExecutor_BenignSkip(t *testing.T) {
	var s2Ran bool
	fns := map[string]func(string, *rcx.WorkingContext) error{
		"s1": func(jobID string, _ *rcx.WorkingContext) error {
			return stages.Skip("job %s outside processing mask", jobID)
		},
		"s2": func(string, *rcx.WorkingContext) error { s2Ran = true; return nil },
	}

	executor := NewJobExecutor(buildInstances(t, fns, "s1", "s2"), nil, nil)
	result, setupErr := executor.Execute("job-1", NewJobLogger(nil, "job-1"))

	require.NoError(t, setupErr)
	assert.Equal(t, common.JobSkipped, result.Outcome)
	assert.True(t, common.IsSkipStatus(result.Status))
	assert.Empty(t, result.FailedStage)
	assert.False(t, s2Ran)
}

func TestJobExecutor_PanicBecomesJobError(t *testing.T) {
	fns := map[string]func(string, *rcx.WorkingContext) error{
		"s1": func(string, *rcx.WorkingContext) error { panic("index out of range") },
	}

	executor := NewJobExecutor(buildInstances(t, fns, "s1"), nil, nil)
	result, setupErr := executor.Execute("job-1", NewJobLogger(nil, "job-1"))

	// panic在作业边界被捕获并归类为作业错误，不向上传播
	require.NoError(t, setupErr)
	assert.Equal(t, common.JobErrored, result.Outcome)
	assert.Contains(t, result.Status, "index out of range")
	assert.Contains(t, result.PerStageElapsed, "s1")
}

func TestJobExecutor_BreakpointStopsControlled(t *testing.T) {
	dir := t.TempDir()
	var s3Ran bool

	fns := map[string]func(string, *rcx.WorkingContext) error{
		"s1": func(_ string, wc *rcx.WorkingContext) error { wc.Set("k", 1); return nil },
		"s2": func(string, *rcx.WorkingContext) error { return nil },
		"s3": func(string, *rcx.WorkingContext) error { s3Ran = true; return nil },
	}

	instances := buildInstances(t, fns, "s1", "s2", "s3")
	// s2为断点阶段
	instances[1] = func() *stages.Instance {
		stage := stages.NewFuncStage("s2", fns["s2"])
		instance := stages.NewInstance(stage, stages.Descriptor{Name: "s2", Position: 1, Breakpoint: true}, stages.InitAtBuild)
		require.NoError(t, instance.EnsureInit())
		return instance
	}()

	executor := NewJobExecutor(instances, nil, rcx.NewJSONSnapshotWriter(dir))
	result, setupErr := executor.Execute("job-1", NewJobLogger(nil, "job-1"))

	require.NoError(t, setupErr)
	// 断点停止是受控停止，作业计入成功处理而非错误
	assert.Equal(t, common.JobProcessed, result.Outcome)
	assert.True(t, result.BreakpointHit)
	assert.False(t, s3Ran)

	// 快照文件已写出
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "_s2.json")
	assert.Equal(t, filepath.Ext(entries[0].Name()), ".json")
}

func TestJobExecutor_LazySetupErrorFatal(t *testing.T) {
	broken := &failingInitStage{FuncStage: stages.NewFuncStage("broken", nil)}
	instance := stages.NewInstance(broken, stages.Descriptor{Name: "broken"}, stages.InitOnFirstProcess)

	executor := NewJobExecutor([]*stages.Instance{instance}, nil, nil)
	result, setupErr := executor.Execute("job-1", NewJobLogger(nil, "job-1"))

	// setup错误对整个运行致命，必须向编排器传播
	require.Error(t, setupErr)
	assert.True(t, stages.IsSetup(setupErr))
	assert.Equal(t, common.JobErrored, result.Outcome)
	assert.Equal(t, "broken", result.FailedStage)
}

type failingInitStage struct {
	*stages.FuncStage
}

func (s *failingInitStage) Init() error {
	return errors.New("reference data unavailable")
}
