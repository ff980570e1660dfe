package stages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcx "github.com/cpomsoft/clev2er/pkg/context"
)

func TestStageHooks_Order(t *testing.T) {
	var calls []string
	hook := NewStageHookFunc("tracer").
		SetBeforeStage(func(Stage, *rcx.WorkingContext) error {
			calls = append(calls, "before")
			return nil
		}).
		SetAfterStage(func(Stage, *rcx.WorkingContext) error {
			calls = append(calls, "after")
			return nil
		})

	stage := NewFuncStage("s1", func(string, *rcx.WorkingContext) error {
		calls = append(calls, "process")
		return nil
	})
	instance := NewInstance(stage, Descriptor{Name: "s1"}, InitAtBuild)
	instance.AddStageHook(hook)
	require.NoError(t, instance.EnsureInit())

	wc := rcx.AcquireWorkingContext("job-1", nil)
	defer rcx.ReleaseWorkingContext(wc)

	require.NoError(t, instance.Execute("job-1", wc))
	assert.Equal(t, []string{"before", "process", "after"}, calls)
}

func TestStageHooks_OnErrorNotCalledForSkip(t *testing.T) {
	var errorHookCalled bool
	hook := NewStageHookFunc("err-tracer").
		SetOnError(func(Stage, *rcx.WorkingContext, error) error {
			errorHookCalled = true
			return nil
		})

	skipStage := NewFuncStage("skipper", func(string, *rcx.WorkingContext) error {
		return Skip("not applicable")
	})
	instance := NewInstance(skipStage, Descriptor{Name: "skipper"}, InitAtBuild)
	instance.AddStageHook(hook)
	require.NoError(t, instance.EnsureInit())

	wc := rcx.AcquireWorkingContext("job-1", nil)
	defer rcx.ReleaseWorkingContext(wc)

	err := instance.Execute("job-1", wc)
	assert.True(t, IsSkip(err))
	// 良性跳过不是错误，不触发错误钩子
	assert.False(t, errorHookCalled)
}

func TestStageHooks_PanicContained(t *testing.T) {
	hook := NewStageHookFunc("bad-hook").
		SetBeforeStage(func(Stage, *rcx.WorkingContext) error {
			panic("hook exploded")
		})

	stage := NewFuncStage("s1", func(string, *rcx.WorkingContext) error { return nil })
	instance := NewInstance(stage, Descriptor{Name: "s1"}, InitAtBuild)
	instance.AddStageHook(hook)
	require.NoError(t, instance.EnsureInit())

	wc := rcx.AcquireWorkingContext("job-1", nil)
	defer rcx.ReleaseWorkingContext(wc)

	// 钩子panic被吞掉，阶段处理照常进行
	assert.NotPanics(t, func() {
		assert.NoError(t, instance.Execute("job-1", wc))
	})
}

func TestStageHooks_OnErrorCalledForFailure(t *testing.T) {
	var seen error
	hook := NewStageHookFunc("err-tracer").
		SetOnError(func(_ Stage, _ *rcx.WorkingContext, err error) error {
			seen = err
			return nil
		})

	failing := NewFuncStage("failer", func(string, *rcx.WorkingContext) error {
		return errors.New("bad input")
	})
	instance := NewInstance(failing, Descriptor{Name: "failer"}, InitAtBuild)
	instance.AddStageHook(hook)
	require.NoError(t, instance.EnsureInit())

	wc := rcx.AcquireWorkingContext("job-1", nil)
	defer rcx.ReleaseWorkingContext(wc)

	err := instance.Execute("job-1", wc)
	require.Error(t, err)
	assert.Equal(t, err, seen)
}
