package challenge

import (
	"acme-manager/internal/acme"
	"acme-manager/internal/provider"
)

// AuthorizationRecord 一个域名在一次签发中的验证状态
// 只在单次签发内存在，不持久化
type AuthorizationRecord struct {
	Domain         string // 证书上的域名，可能带 *.
	TargetDomain   string // 实际写记录的域名，CNAME委派时为委派目标
	Authorizations []acme.Authorization
	Challenges     []acme.Challenge
	Changes        []Change
}

// Change 一条已创建的验证记录
type Change struct {
	Account   *provider.Account
	ID        provider.ChangeID
	Challenge acme.Challenge
}

// Delegated 是否通过CNAME委派
func (r *AuthorizationRecord) Delegated() bool {
	return r.Domain != r.TargetDomain
}

func countChanges(records []*AuthorizationRecord) int {
	n := 0
	for _, r := range records {
		if r != nil {
			n += len(r.Changes)
		}
	}
	return n
}
