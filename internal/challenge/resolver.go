package challenge

import (
	"fmt"
	"sync"

	"acme-manager/internal/domain"
	"acme-manager/internal/metrics"
	"acme-manager/internal/provider"
)

// DomainResolver 按最长后缀查找托管域名的提供商账号
// 结果在一次签发内缓存，不能跨签发复用
type DomainResolver struct {
	accounts []*provider.Account

	mu    sync.Mutex
	cache map[string][]*provider.Account
}

// NewDomainResolver 基于提供商快照创建解析器
func NewDomainResolver(accounts []*provider.Account) *DomainResolver {
	return &DomainResolver{
		accounts: accounts,
		cache:    make(map[string][]*provider.Account),
	}
}

// ProvidersFor 返回托管 name 的账号
// 多个账号在同一最长后缀上匹配时全部返回
func (r *DomainResolver) ProvidersFor(name string) ([]*provider.Account, error) {
	name = domain.Normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if accounts, ok := r.cache[name]; ok {
		return accounts, nil
	}

	var matched []*provider.Account
	best := 0
	for _, account := range r.accounts {
		length := 0
		for _, suffix := range account.Domains {
			suffix = domain.Normalize(suffix)
			if suffix == "" || !domain.IsSubDomain(name, suffix) {
				continue
			}
			if len(suffix) > length {
				length = len(suffix)
			}
		}

		switch {
		case length == 0:
		case length > best:
			best = length
			matched = []*provider.Account{account}
		case length == best:
			matched = append(matched, account)
		}
	}

	if len(matched) == 0 {
		metrics.RecordNoProviderForDomain()
		return nil, fmt.Errorf("%s: %w", name, ErrNoProviderForDomain)
	}

	r.cache[name] = matched
	return matched, nil
}
