// Package propagation 等待验证记录在DNS上生效
//
// 先查询权威服务器，权威服务器看到记录后再查询公共递归服务器。
// 轮询器只读DNS，从不删除记录。
package propagation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"acme-manager/internal/metrics"
)

const (
	// DefaultAuthoritativeResolver UltraDNS 的解析服务器，托管在其他服务商时应配置
	// propagation.authoritative_resolver 为该Zone的权威服务器
	DefaultAuthoritativeResolver = "156.154.64.154:53"
	DefaultPublicResolver        = "8.8.8.8:53"

	// DefaultSettle 权威服务器生效后、查询公共服务器前的等待
	DefaultSettle = DefaultInterval
)

// ErrPropagationTimeout 重试次数用尽仍未看到期望的记录值
var ErrPropagationTimeout = errors.New("dns propagation timeout")

// Phase 轮询阶段
type Phase int

const (
	PhaseAuthoritative Phase = iota + 1
	PhasePublic
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthoritative:
		return "authoritative"
	case PhasePublic:
		return "public"
	default:
		return "unknown"
	}
}

// TXTLookup 查询TXT记录
type TXTLookup interface {
	LookupTXT(ctx context.Context, server, name string) ([]string, error)
}

// Result 轮询结果
type Result struct {
	Propagated bool
	Phase      Phase // 结束时所处的阶段
	Attempts   int   // 结束阶段的尝试次数
	Total      int   // 两个阶段合计
}

// Poller 两阶段轮询器
type Poller struct {
	lookup        TXTLookup
	authoritative string
	public        string
	policy        RetryPolicy
	// Settle 第一阶段成功后等待多久再进入第二阶段，0 表示不等待
	Settle time.Duration
}

// NewPoller 创建轮询器，服务器为空时使用默认值
func NewPoller(lookup TXTLookup, authoritative, public string, policy RetryPolicy) *Poller {
	if authoritative == "" {
		authoritative = DefaultAuthoritativeResolver
	}
	if public == "" {
		public = DefaultPublicResolver
	}
	return &Poller{
		lookup:        lookup,
		authoritative: authoritative,
		public:        public,
		policy:        policy,
		Settle:        DefaultSettle,
	}
}

// Wait 等待 fqdn 上出现值 value
func (p *Poller) Wait(ctx context.Context, fqdn, value string) (Result, error) {
	res := Result{Phase: PhaseAuthoritative}

	attempts, ok, err := p.Check(ctx, p.authoritative, fqdn, value)
	res.Attempts, res.Total = attempts, attempts
	metrics.RecordHasDNSPropagated(PhaseAuthoritative.String(), ok)
	if err != nil {
		return res, err
	}
	if !ok {
		log.Warnf("[DNS-01] 权威服务器 %s 上 %s 未生效 (尝试 %d 次)", p.authoritative, fqdn, attempts)
		return res, fmt.Errorf("%s @%s: %w", fqdn, p.authoritative, ErrPropagationTimeout)
	}
	log.Debugf("[DNS-01] 权威服务器已生效: %s (尝试 %d 次)", fqdn, attempts)

	if p.Settle > 0 {
		sleep := p.policy.Sleep
		if sleep == nil {
			sleep = Sleep
		}
		if err := sleep(ctx, p.Settle); err != nil {
			return res, err
		}
	}

	res.Phase = PhasePublic
	attempts, ok, err = p.Check(ctx, p.public, fqdn, value)
	res.Attempts = attempts
	res.Total += attempts
	metrics.RecordHasDNSPropagated(PhasePublic.String(), ok)
	if err != nil {
		return res, err
	}
	if !ok {
		log.Warnf("[DNS-01] 公共服务器 %s 上 %s 未生效 (尝试 %d 次)", p.public, fqdn, attempts)
		return res, fmt.Errorf("%s @%s: %w", fqdn, p.public, ErrPropagationTimeout)
	}

	res.Propagated = true
	log.Infof("[DNS-01] 记录已生效: %s", fqdn)
	return res, nil
}

// Check 在单个服务器上轮询，查询失败视为未匹配
func (p *Poller) Check(ctx context.Context, server, fqdn, value string) (int, bool, error) {
	return p.policy.Do(ctx, func(ctx context.Context) bool {
		values, err := p.lookup.LookupTXT(ctx, server, fqdn)
		if err != nil {
			log.Debugf("[DNS-01] 查询 %s @%s 失败: %v", fqdn, server, err)
			return false
		}
		for _, v := range values {
			if v == value {
				return true
			}
		}
		return false
	})
}
