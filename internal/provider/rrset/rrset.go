// Package rrset 处理按记录集存储TXT值的提供商
//
// 这类提供商把同一主机名下的所有TXT值放在一个记录集里，不能单独删除某个值：
// 删除时需要读出整个集合，去掉目标值，删除整个集合，若还有剩余值再用剩余值重建。
package rrset

import (
	"context"
	"fmt"
	"sync"

	"acme-manager/internal/provider"
)

// Key 记录集的定位信息
type Key struct {
	Zone string // Zone名称或ID
	Name string // 记录名
}

func (k Key) String() string {
	return k.Name + "@" + k.Zone
}

// Store 记录集的底层读写
type Store interface {
	// Get 读取记录集，不存在时 found 为 false
	Get(ctx context.Context, key Key) (values []string, found bool, err error)
	// Create 创建记录集
	Create(ctx context.Context, key Key, values []string) error
	// Delete 删除整个记录集
	Delete(ctx context.Context, key Key) error
}

// maxConflictRetries 创建记录集遇到冲突时重新读取合并的次数
const maxConflictRetries = 3

// Locks 按记录集加锁，进程内对同一记录集的读改写串行执行
// 零值可用
type Locks struct {
	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// Lock 锁住 key 对应的记录集，返回解锁函数
func (l *Locks) Lock(key Key) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[Key]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Add 把值加入记录集，值已存在时不做任何修改
// 创建时遇到冲突说明记录集被并发写入，重新读取后再合并
func Add(ctx context.Context, s Store, key Key, value string) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if err = add(ctx, s, key, value); err == nil || !provider.IsConflict(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("记录集 %s 持续冲突: %w", key, err)
}

func add(ctx context.Context, s Store, key Key, value string) error {
	values, found, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("读取记录集 %s 失败: %w", key, err)
	}
	if !found {
		return s.Create(ctx, key, []string{value})
	}
	if contains(values, value) {
		return nil
	}

	merged := append(append([]string(nil), values...), value)
	if err := s.Delete(ctx, key); err != nil {
		return fmt.Errorf("删除记录集 %s 失败: %w", key, err)
	}
	return s.Create(ctx, key, merged)
}

// Delete 从记录集删除一个值
// 记录集或值不存在时返回 NotFound，不修改远端
func Delete(ctx context.Context, s Store, key Key, value string) (provider.DeleteResult, error) {
	values, found, err := s.Get(ctx, key)
	if err != nil {
		return provider.NotFound, fmt.Errorf("读取记录集 %s 失败: %w", key, err)
	}
	if !found {
		return provider.NotFound, nil
	}

	remaining, removed := remove(values, value)
	if !removed {
		return provider.NotFound, nil
	}

	if err := s.Delete(ctx, key); err != nil {
		return provider.NotFound, fmt.Errorf("删除记录集 %s 失败: %w", key, err)
	}

	if len(remaining) > 0 {
		if err := s.Create(ctx, key, remaining); err != nil {
			return provider.Deleted, fmt.Errorf("重建记录集 %s 失败: %w", key, err)
		}
	}
	return provider.Deleted, nil
}

// Purge 删除整个记录集，不存在时返回 NotFound
func Purge(ctx context.Context, s Store, key Key) (provider.DeleteResult, error) {
	_, found, err := s.Get(ctx, key)
	if err != nil {
		return provider.NotFound, fmt.Errorf("读取记录集 %s 失败: %w", key, err)
	}
	if !found {
		return provider.NotFound, nil
	}
	if err := s.Delete(ctx, key); err != nil {
		return provider.NotFound, fmt.Errorf("删除记录集 %s 失败: %w", key, err)
	}
	return provider.Deleted, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if unquote(v) == value {
			return true
		}
	}
	return false
}

// remove 删除第一个匹配的值
func remove(values []string, value string) ([]string, bool) {
	out := make([]string, 0, len(values))
	removed := false
	for _, v := range values {
		if !removed && unquote(v) == value {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}

// unquote 部分提供商返回的TXT值带双引号
func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
