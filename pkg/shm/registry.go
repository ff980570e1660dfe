package shm

import (
	"fmt"
	"sync"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// Role 共享块句柄的所有权角色
// 谁负责unlink是类型级事实而非运行时布尔标记
type Role int8

const (
	// RoleOwner 创建者：Release时额外从注册表中移除块（不可逆，恰好一次）
	RoleOwner Role = iota

	// RoleBorrower 借用者：Release时仅释放本地引用
	RoleBorrower
)

// String ...
func (r Role) String() string {
	if r == RoleOwner {
		return "owner"
	}
	return "borrower"
}

// block 进程级命名共享块
// 创建时一次性写入，之后只读，因此无并发写者、无需数据锁
type block struct {
	name      string
	data      []byte
	borrowers int
}

// Registry 共享资源注册表
// 管理重量级参考数据阶段使用的进程级命名内存块的创建/挂接/释放
type Registry struct {
	blocks map[string]*block
	mu     sync.RWMutex
}

// NewRegistry 创建共享资源注册表
func NewRegistry() *Registry {
	return &Registry{
		blocks: make(map[string]*block),
	}
}

// Handle 共享块句柄
type Handle struct {
	registry *Registry
	name     string
	role     Role
	data     []byte
	released bool
	mu       sync.Mutex
}

// Create 分配命名共享块并拷入数据，调用者成为Owner
// 同名块已存在时报错
func (r *Registry) Create(name string, payload []byte) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.blocks[name]; exists {
		return nil, fmt.Errorf("shared block %s already exists", name)
	}

	// 按payload大小分配并拷入，之后块内容不再变化
	data := make([]byte, len(payload))
	copy(data, payload)

	r.blocks[name] = &block{
		name: name,
		data: data,
	}

	logger.Infof("shared block %s created, size: %d bytes", name, len(data))

	return &Handle{
		registry: r,
		name:     name,
		role:     RoleOwner,
		data:     data,
	}, nil
}

// Attach 挂接已存在的命名块（不拷贝），调用者成为Borrower
// 块不存在时返回setup级错误：primer必须先于worker创建该块，
// 绝不返回零填充或部分填充的数据
func (r *Registry) Attach(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	blk, exists := r.blocks[name]
	if !exists {
		return nil, fmt.Errorf("shared block %s does not exist: primer must create it before workers attach", name)
	}

	blk.borrowers++

	logger.Debugf("shared block %s attached, borrowers: %d", name, blk.borrowers)

	return &Handle{
		registry: r,
		name:     name,
		role:     RoleBorrower,
		data:     blk.data,
	}, nil
}

// Exists 检查命名块是否存在
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.blocks[name]
	return exists
}

// Stats 注册表统计信息
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blocks := make(map[string]interface{}, len(r.blocks))
	var totalBytes int
	for name, blk := range r.blocks {
		blocks[name] = map[string]interface{}{
			"size":      len(blk.data),
			"borrowers": blk.borrowers,
		}
		totalBytes += len(blk.data)
	}

	return map[string]interface{}{
		"block_count": len(r.blocks),
		"total_bytes": totalBytes,
		"blocks":      blocks,
	}
}

// Name 块名称
func (h *Handle) Name() string {
	return h.name
}

// Role 句柄角色
func (h *Handle) Role() Role {
	return h.role
}

// Bytes 只读数据视图
// 块在创建后只读，调用方不得修改返回的切片内容
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	return h.data
}

// Release 释放句柄
// Borrower仅解除本地映射；Owner额外将块从注册表移除（unlink），
// unlink不可逆且恰好发生一次，且仅在没有剩余借用者时允许
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil // 重复Release为空操作
	}

	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	blk, exists := h.registry.blocks[h.name]
	if !exists {
		// 块已被unlink，borrower晚释放无需报错
		h.released = true
		h.data = nil
		return nil
	}

	switch h.role {
	case RoleBorrower:
		blk.borrowers--
		logger.Debugf("shared block %s released by borrower, borrowers: %d", h.name, blk.borrowers)

	case RoleOwner:
		if blk.borrowers > 0 {
			return fmt.Errorf("cannot unlink shared block %s: %d borrowers still attached", h.name, blk.borrowers)
		}
		delete(h.registry.blocks, h.name)
		logger.Infof("shared block %s unlinked by owner", h.name)
	}

	h.released = true
	h.data = nil
	return nil
}
