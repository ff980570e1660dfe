package stages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpomsoft/clev2er/pkg/common"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
	"github.com/cpomsoft/clev2er/pkg/shm"
)

func newTestRegistry(t *testing.T, names ...string) *Registry {
	r := NewRegistry()
	for _, name := range names {
		name := name
		err := r.Register(name, func(config map[string]interface{}) (Stage, error) {
			return NewFuncStage(name, func(string, *rcx.WorkingContext) error { return nil }), nil
		})
		require.NoError(t, err)
	}
	return r
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := newTestRegistry(t, "s1")

	err := r.Register("s1", func(map[string]interface{}) (Stage, error) { return nil, nil })
	assert.Error(t, err)
}

func TestRegistry_BuildUnknownStage(t *testing.T) {
	r := newTestRegistry(t, "s1")

	_, err := r.Build([]string{"s1", "nope"}, BuildParams{Mode: common.ExecutionModeSequential})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRegistry_BuildEmptyList(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Build(nil, BuildParams{Mode: common.ExecutionModeSequential})
	assert.Error(t, err)
}

func TestRegistry_BuildSequentialInitsAtBuild(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2")

	built, err := r.Build([]string{"s1", "s2"}, BuildParams{Mode: common.ExecutionModeSequential})
	require.NoError(t, err)
	require.Len(t, built.Instances, 2)

	// 串行模式：构建期初始化，setup错误在任何作业前暴露
	for _, instance := range built.Instances {
		assert.Equal(t, StateInitialized, instance.State())
		assert.Equal(t, InitAtBuild, instance.Trigger())
	}

	// 位置与顺序保持
	assert.Equal(t, "s1", built.Instances[0].Name())
	assert.Equal(t, 0, built.Instances[0].Descriptor().Position)
	assert.Equal(t, "s2", built.Instances[1].Name())
	assert.Equal(t, 1, built.Instances[1].Descriptor().Position)
}

func TestRegistry_BuildPooledDefersInit(t *testing.T) {
	r := newTestRegistry(t, "s1")

	built, err := r.Build([]string{"s1"}, BuildParams{Mode: common.ExecutionModePooled})
	require.NoError(t, err)

	// 池化模式：worker内首次Process时惰性初始化
	assert.Equal(t, StateUnbuilt, built.Instances[0].State())
	assert.Equal(t, InitOnFirstProcess, built.Instances[0].Trigger())
}

func TestRegistry_BuildSetupErrorAborts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("broken", func(map[string]interface{}) (Stage, error) {
		s := newCountingStage("broken")
		s.initErr = errors.New("no reference data")
		return s, nil
	}))

	_, err := r.Build([]string{"broken"}, BuildParams{Mode: common.ExecutionModeSequential})
	require.Error(t, err)
	assert.True(t, IsSetup(err))
}

func TestRegistry_BuildBreakpointFlag(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2", "s3")

	built, err := r.Build([]string{"s1", "s2", "s3"}, BuildParams{
		Mode:       common.ExecutionModeSequential,
		Breakpoint: "s2",
	})
	require.NoError(t, err)

	assert.False(t, built.Instances[0].Descriptor().Breakpoint)
	assert.True(t, built.Instances[1].Descriptor().Breakpoint)
	assert.False(t, built.Instances[2].Descriptor().Breakpoint)
}

// sharedRefStage 使用共享参考块的测试阶段
type sharedRefStage struct {
	*BaseStage
	registry *shm.Registry
	role     shm.Role
	handle   *shm.Handle
}

func (s *sharedRefStage) BindShared(registry *shm.Registry, role shm.Role) {
	s.registry = registry
	s.role = role
}

func (s *sharedRefStage) Init() error {
	switch s.role {
	case shm.RoleOwner:
		handle, err := s.registry.Create("ref-block", []byte("reference"))
		if err != nil {
			return err
		}
		s.handle = handle
	default:
		handle, err := s.registry.Attach("ref-block")
		if err != nil {
			return err
		}
		s.handle = handle
	}
	return nil
}

func (s *sharedRefStage) Process(jobID string, wc *rcx.WorkingContext) error {
	wc.Set("ref", string(s.handle.Bytes()))
	return nil
}

func (s *sharedRefStage) Finalize() {
	if s.handle != nil {
		_ = s.handle.Release()
	}
}

func TestRegistry_BuildPrimerForSharedStage(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("shared", func(map[string]interface{}) (Stage, error) {
		return &sharedRefStage{BaseStage: NewBaseStage("shared")}, nil
	}))

	shared := shm.NewRegistry()
	built, err := r.Build([]string{"shared"}, BuildParams{
		Mode:         common.ExecutionModePooled,
		SharedMemory: true,
		Shared:       shared,
	})
	require.NoError(t, err)

	// primer已在构建期初始化：共享块先于任何worker存在
	require.Len(t, built.Primers, 1)
	assert.True(t, built.Primers[0].IsPrimer())
	assert.Equal(t, StateInitialized, built.Primers[0].State())
	assert.True(t, shared.Exists("ref-block"))

	// worker实例以Borrower角色挂接，惰性初始化后可读到块内容
	wc := rcx.AcquireWorkingContext("job-1", nil)
	defer rcx.ReleaseWorkingContext(wc)
	require.NoError(t, built.Instances[0].Execute("job-1", wc))

	value, ok := wc.Get("ref")
	require.True(t, ok)
	assert.Equal(t, "reference", value)
}

func TestRegistry_SharedStageWithoutRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("shared", func(map[string]interface{}) (Stage, error) {
		return &sharedRefStage{BaseStage: NewBaseStage("shared")}, nil
	}))

	_, err := r.Build([]string{"shared"}, BuildParams{
		Mode:         common.ExecutionModePooled,
		SharedMemory: true,
	})
	assert.Error(t, err)
}
