package challenge

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"acme-manager/internal/acme"
	"acme-manager/internal/domain"
	"acme-manager/internal/metrics"
)

const (
	DefaultConcurrency = 4
	MaxConcurrency     = 8
)

// Orchestrator 为订单中的每个域名创建验证记录
type Orchestrator struct {
	client      acme.Client
	resolver    *DomainResolver
	cname       *CNAMEResolver
	concurrency int
	log         *log.Entry
}

// NewOrchestrator 创建编排器，concurrency 限制同时处理的域名数
func NewOrchestrator(client acme.Client, resolver *DomainResolver, cname *CNAMEResolver, concurrency int, logger *log.Entry) *Orchestrator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Orchestrator{
		client:      client,
		resolver:    resolver,
		cname:       cname,
		concurrency: ClampConcurrency(concurrency),
		log:         logger,
	}
}

// ClampConcurrency 把并发数限制在 [1, MaxConcurrency]，0 表示默认值
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}

// Authorize 为每个域名选出 dns-01 验证并创建TXT记录
// 出错时仍返回已创建的记录，调用方负责清理
func (o *Orchestrator) Authorize(ctx context.Context, order *acme.Order, domains []string) ([]*AuthorizationRecord, error) {
	records := make([]*AuthorizationRecord, len(domains))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, name := range domains {
		g.Go(func() error {
			record := &AuthorizationRecord{Domain: name, TargetDomain: name}
			records[i] = record
			return o.authorizeDomain(ctx, order, record)
		})
	}

	err := g.Wait()

	out := make([]*AuthorizationRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, err
}

func (o *Orchestrator) authorizeDomain(ctx context.Context, order *acme.Order, record *AuthorizationRecord) error {
	authzs, challenges := SelectDNSChallenges(record.Domain, order.Authorizations)
	if len(challenges) == 0 {
		metrics.RecordNoDNSChallenge()
		return fmt.Errorf("%s: %w", record.Domain, ErrNoDNSChallenge)
	}
	record.Authorizations = authzs
	record.Challenges = challenges

	record.TargetDomain = o.cname.ResolveTarget(ctx, record.Domain)

	lookupName, _ := domain.StripWildcard(record.TargetDomain)
	accounts, err := o.resolver.ProvidersFor(lookupName)
	if err != nil {
		return err
	}

	o.log.Debugf("[DNS-01] 开始验证 %s (目标: %s, 提供商: %d 个)", record.Domain, record.TargetDomain, len(accounts))

	for _, account := range accounts {
		base, _ := domain.StripWildcard(record.TargetDomain)
		base += account.ChallengeExtension()

		for _, ch := range challenges {
			if err := ctx.Err(); err != nil {
				return err
			}

			// 只有未委派时才加 _acme-challenge 前缀，委派目标本身就是验证主机名
			host := base
			if !record.Delegated() {
				host = ch.ValidationDomainName(base)
			}

			keyAuth, err := o.client.KeyAuthorization(ch.Token)
			if err != nil {
				return fmt.Errorf("计算 %s 的key authorization失败: %w", record.Domain, err)
			}

			id, err := account.DNS.CreateTXTRecord(ctx, host, ch.Validation(keyAuth))
			if err != nil {
				return fmt.Errorf("在 %s 创建 %s 失败: %w", account.Name, host, err)
			}

			record.Changes = append(record.Changes, Change{Account: account, ID: id, Challenge: ch})
			o.log.Infof("[DNS-01] 已创建验证记录 %s (%s)", host, account.Name)
		}
	}

	return nil
}

// SelectDNSChallenges 选出与域名匹配的授权及其 dns-01 验证
// 通配符域名只匹配 wildcard 授权，普通域名只匹配非 wildcard 授权
func SelectDNSChallenges(name string, authzs []acme.Authorization) ([]acme.Authorization, []acme.Challenge) {
	stripped, wildcard := domain.StripWildcard(name)

	var matched []acme.Authorization
	var challenges []acme.Challenge
	for _, authz := range authzs {
		if !strings.EqualFold(authz.Identifier, stripped) || authz.Wildcard != wildcard {
			continue
		}
		dns := authz.DNSChallenges()
		if len(dns) == 0 {
			continue
		}
		matched = append(matched, authz)
		challenges = append(challenges, dns...)
	}
	return matched, challenges
}
