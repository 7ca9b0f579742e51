package challenge

import (
	"context"

	log "github.com/sirupsen/logrus"

	"acme-manager/internal/domain"
)

// CNAMELookup 查询CNAME目标
type CNAMELookup interface {
	LookupCNAME(ctx context.Context, name string) (string, error)
}

// CNAMEResolver 解析验证主机名的CNAME委派
type CNAMEResolver struct {
	enabled bool
	lookup  CNAMELookup
}

// NewCNAMEResolver 创建CNAME解析器，enabled 为 false 时原样返回域名
func NewCNAMEResolver(enabled bool, lookup CNAMELookup) *CNAMEResolver {
	return &CNAMEResolver{enabled: enabled, lookup: lookup}
}

// ResolveTarget 返回验证记录应写入的域名
// 查询失败与没有CNAME同样处理
func (r *CNAMEResolver) ResolveTarget(ctx context.Context, name string) string {
	if r == nil || !r.enabled || r.lookup == nil {
		return name
	}

	stripped, _ := domain.StripWildcard(name)
	host := domain.ChallengeHost(stripped)

	target, err := r.lookup.LookupCNAME(ctx, host)
	if err != nil || target == "" {
		if err != nil {
			log.Debugf("[DNS-01] %s 没有CNAME: %v", host, err)
		}
		return name
	}

	target = domain.Normalize(target)
	log.Infof("[DNS-01] %s 委派到 %s", host, target)
	return target
}
