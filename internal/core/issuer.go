package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/acme"
	"acme-manager/internal/challenge"
	"acme-manager/internal/config"
	"acme-manager/internal/domain"
	"acme-manager/internal/metrics"
	"acme-manager/internal/provider"
)

// IssuerOptions Issuer 参数
type IssuerOptions struct {
	Accounts     []*provider.Account // DNS账号快照，签发过程中只读
	CNAME        *challenge.CNAMEResolver
	Waiter       challenge.Waiter
	Lookup       challenge.TXTLookup
	VerifyServer string
	AnswerDelay  time.Duration
	Concurrency  int
	OrderTimeout time.Duration
	Logger       *log.Entry
}

// Issuer 执行一次完整的 DNS-01 签发
type Issuer struct {
	client acme.Client
	opts   IssuerOptions
	now    func() time.Time
}

// Issuance 一次签发尝试的结果
type Issuance struct {
	AttemptID   string
	Domains     []string
	Certificate *acme.Certificate
	Cleanup     *challenge.CleanupReport // 只有走了清理流程时才有
}

// NewIssuer 创建 Issuer
func NewIssuer(client acme.Client, opts IssuerOptions) *Issuer {
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = config.DefaultOrderTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Issuer{client: client, opts: opts, now: time.Now}
}

// Issue 为 domains 签发一张证书
// 返回的 Issuance 总是非 nil，失败时也带有尝试ID和清理结果
func (i *Issuer) Issue(ctx context.Context, domains []string) (iss *Issuance, err error) {
	iss = &Issuance{AttemptID: uuid.NewString(), Domains: domain.Unique(domains)}
	logger := i.opts.Logger.WithField("attempt_id", iss.AttemptID)

	defer func() {
		metrics.RecordRequestCertificate(err == nil)
	}()

	if len(iss.Domains) == 0 {
		return iss, errors.New("域名列表为空")
	}
	logger.Infof("[ACME] 开始签发: %v", iss.Domains)

	// 每次签发使用新的解析缓存
	orchestrator := challenge.NewOrchestrator(i.client, challenge.NewDomainResolver(i.opts.Accounts),
		i.opts.CNAME, i.opts.Concurrency, logger)
	finalizer := challenge.NewFinalizer(i.client, challenge.FinalizerOptions{
		Waiter:               i.opts.Waiter,
		Lookup:               i.opts.Lookup,
		VerifyServer:         i.opts.VerifyServer,
		AnswerDelay:          i.opts.AnswerDelay,
		AuthorizationTimeout: i.opts.OrderTimeout,
		Concurrency:          i.opts.Concurrency,
		Logger:               logger,
	})

	order, err := i.client.NewOrder(ctx, iss.Domains)
	if err != nil {
		return iss, fmt.Errorf("创建订单失败: %w", err)
	}

	records, err := orchestrator.Authorize(ctx, order, iss.Domains)
	if err != nil {
		report := finalizer.Cleanup(ctx, records)
		iss.Cleanup = &report
		return iss, fmt.Errorf("创建验证记录失败: %w", err)
	}

	// Finalize 自己删除记录，失败时不再清理
	if err := finalizer.Finalize(ctx, records); err != nil {
		return iss, fmt.Errorf("域名验证失败: %w", err)
	}

	deadline := i.now().Add(i.opts.OrderTimeout)
	cert, err := i.client.FinalizeOrder(ctx, order, iss.Domains, deadline)
	if err != nil {
		return iss, fmt.Errorf("完成订单失败: %w", err)
	}
	if cert.Domain == "" {
		cert.Domain = iss.Domains[0]
	}
	iss.Certificate = cert

	logger.Infof("[ACME] 签发成功: %s", cert.Domain)
	return iss, nil
}
