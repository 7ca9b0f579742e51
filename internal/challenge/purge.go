package challenge

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"acme-manager/internal/domain"
	"acme-manager/internal/metrics"
	"acme-manager/internal/provider"
)

// Purger 删除上次签发残留的 _acme-challenge 记录集
// 主机名的计算与 Orchestrator 相同，只是不需要订单
type Purger struct {
	resolver *DomainResolver
	cname    *CNAMEResolver
	log      *log.Entry
}

// NewPurger 创建清除器
func NewPurger(resolver *DomainResolver, cname *CNAMEResolver, logger *log.Entry) *Purger {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Purger{resolver: resolver, cname: cname, log: logger}
}

type purgeTarget struct {
	account *provider.Account
	host    string
}

// Purge 清除 domains 对应的验证记录集
// 委派出去的主机名不是 _acme-challenge 记录，跳过不删
func (p *Purger) Purge(ctx context.Context, domains []string) CleanupReport {
	var report CleanupReport

	var targets []purgeTarget
	seen := make(map[purgeTarget]bool)

	for _, name := range domains {
		if target := p.cname.ResolveTarget(ctx, name); target != name {
			p.log.Infof("[DNS-01] %s 委派到 %s，跳过清除", name, target)
			report.Skipped++
			continue
		}

		base, _ := domain.StripWildcard(name)
		accounts, err := p.resolver.ProvidersFor(base)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			continue
		}

		for _, account := range accounts {
			t := purgeTarget{account: account, host: domain.ChallengeHost(base + account.ChallengeExtension())}
			// apex 与通配符共用一个记录集
			if seen[t] {
				continue
			}
			seen[t] = true
			targets = append(targets, t)
		}
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err)
			break
		}

		purger, ok := t.account.DNS.(provider.TXTPurger)
		if !ok {
			p.log.Warnf("[DNS-01] %s (%s) 不支持清除记录集，跳过 %s", t.account.Name, t.account.Type, t.host)
			report.Skipped++
			continue
		}

		report.Attempted++
		res, err := purger.PurgeTXTRecords(ctx, t.host)
		metrics.RecordDeleteACMETXTRecords(err == nil)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("清除 %s (%s) 失败: %w", t.host, t.account.Name, err))
			p.log.Warnf("[DNS-01] 清除 %s (%s) 失败: %v", t.host, t.account.Name, err)
		case res == provider.NotFound:
			report.NotFound++
		default:
			report.Deleted++
			p.log.Infof("[DNS-01] 已清除 %s (%s)", t.host, t.account.Name)
		}
	}

	p.log.Infof("[DNS-01] 清除完成: 共 %d 个记录集, 删除 %d, 不存在 %d, 跳过 %d, 失败 %d",
		report.Attempted, report.Deleted, report.NotFound, report.Skipped, report.Failed)
	return report
}
