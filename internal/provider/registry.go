package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Constructor 根据配置创建提供商实例
type Constructor func(settings Settings) (DNSProvider, error)

// Registry 提供商类型注册表，启动时构建一次
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register 注册提供商类型
func (r *Registry) Register(providerType string, c Constructor) {
	r.constructors[strings.ToLower(providerType)] = c
}

// Types 返回已注册的类型（排序后）
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New 创建单个提供商实例
func (r *Registry) New(providerType string, settings Settings) (DNSProvider, error) {
	c, ok := r.constructors[strings.ToLower(providerType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (可用: %s)", ErrUnknownProvider, providerType, strings.Join(r.Types(), ", "))
	}
	return c(settings)
}

// AccountConfig 单个账号的配置
type AccountConfig struct {
	Type     string
	Settings Settings
}

// Build 为所有账号创建实例，返回只读快照
func (r *Registry) Build(cfgs []AccountConfig) ([]*Account, error) {
	accounts := make([]*Account, 0, len(cfgs))
	for _, c := range cfgs {
		dns, err := r.New(c.Type, c.Settings)
		if err != nil {
			return nil, fmt.Errorf("创建DNS提供商 %s 失败: %w", c.Settings.Name, err)
		}

		domains := make([]string, len(c.Settings.Domains))
		copy(domains, c.Settings.Domains)
		options := make(map[string]string, len(c.Settings.Options))
		for k, v := range c.Settings.Options {
			options[k] = v
		}

		accounts = append(accounts, &Account{
			Name:    c.Settings.Name,
			Type:    strings.ToLower(c.Type),
			Domains: domains,
			Options: options,
			DNS:     dns,
		})
	}
	return accounts, nil
}
