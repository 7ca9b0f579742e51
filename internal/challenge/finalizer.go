package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"acme-manager/internal/acme"
	"acme-manager/internal/metrics"
	"acme-manager/internal/propagation"
	"acme-manager/internal/provider"
)

const (
	DefaultAnswerDelay          = 5 * time.Second
	DefaultAuthorizationTimeout = 5 * time.Minute
	deleteTimeout               = 30 * time.Second
)

// Waiter 通用的生效等待
type Waiter interface {
	Wait(ctx context.Context, fqdn, value string) (propagation.Result, error)
}

// TXTLookup 本地校验用的TXT查询
type TXTLookup interface {
	LookupTXT(ctx context.Context, server, name string) ([]string, error)
}

// Finalizer 等待记录生效、提交验证并删除记录
type Finalizer struct {
	client       acme.Client
	waiter       Waiter
	lookup       TXTLookup
	verifyServer string
	answerDelay  time.Duration
	authzTimeout time.Duration
	concurrency  int
	sleep        propagation.SleepFunc
	log          *log.Entry
}

// FinalizerOptions Finalizer 参数
type FinalizerOptions struct {
	Waiter       Waiter
	Lookup       TXTLookup
	VerifyServer string        // 本地校验查询的服务器，为空时使用默认递归服务器
	AnswerDelay  time.Duration // 校验通过后、提交验证前的等待，小于 0 表示不等待
	// AuthorizationTimeout 提交验证后等待授权生效的上限，0 表示默认值
	AuthorizationTimeout time.Duration
	Concurrency          int
	Sleep                propagation.SleepFunc
	Logger               *log.Entry
}

// NewFinalizer 创建 Finalizer
func NewFinalizer(client acme.Client, opts FinalizerOptions) *Finalizer {
	delay := opts.AnswerDelay
	if delay == 0 {
		delay = DefaultAnswerDelay
	}
	if delay < 0 {
		delay = 0
	}
	authzTimeout := opts.AuthorizationTimeout
	if authzTimeout <= 0 {
		authzTimeout = DefaultAuthorizationTimeout
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = propagation.Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Finalizer{
		client:       client,
		waiter:       opts.Waiter,
		lookup:       opts.Lookup,
		verifyServer: opts.VerifyServer,
		answerDelay:  delay,
		authzTimeout: authzTimeout,
		concurrency:  ClampConcurrency(opts.Concurrency),
		sleep:        sleep,
		log:          logger,
	}
}

// Finalize 完成所有记录的验证，然后删除全部验证记录
// 单个授权的失败不影响其他授权，删除总会执行，删除失败也会返回
func (f *Finalizer) Finalize(ctx context.Context, records []*AuthorizationRecord) error {
	errs := make([]error, len(records))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, record := range records {
		if record == nil {
			continue
		}
		g.Go(func() error {
			errs[i] = f.complete(ctx, record)
			return nil
		})
	}
	_ = g.Wait()

	if err := f.deleteAll(ctx, records); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// complete 处理一个域名：等待生效、本地校验、提交验证、等待授权
func (f *Finalizer) complete(ctx context.Context, record *AuthorizationRecord) error {
	for _, change := range record.Changes {
		if err := f.waitForChange(ctx, change); err != nil {
			return fmt.Errorf("%s: %w", record.Domain, err)
		}
		if err := f.verify(ctx, change); err != nil {
			metrics.RecordVerificationError()
			return fmt.Errorf("%s: %w", record.Domain, err)
		}
	}

	if f.answerDelay > 0 {
		if err := f.sleep(ctx, f.answerDelay); err != nil {
			return err
		}
	}

	for _, ch := range record.Challenges {
		if err := f.client.AnswerChallenge(ctx, ch); err != nil {
			return fmt.Errorf("%s: %w", record.Domain, err)
		}
	}
	// 授权一直 pending 时也要按时返回，之后才能删除记录
	waitCtx, cancel := context.WithTimeout(ctx, f.authzTimeout)
	defer cancel()
	for _, authz := range record.Authorizations {
		if err := f.client.WaitAuthorization(waitCtx, authz); err != nil {
			return fmt.Errorf("%s: 等待授权失败: %w", record.Domain, err)
		}
	}

	f.log.Infof("[DNS-01] %s 验证通过", record.Domain)
	return nil
}

// waitForChange 提供商自带生效检查时优先使用
func (f *Finalizer) waitForChange(ctx context.Context, change Change) error {
	var err error
	if w, ok := change.Account.DNS.(provider.PropagationWaiter); ok {
		err = w.WaitForDNSChange(ctx, change.ID)
	} else {
		_, err = f.waiter.Wait(ctx, change.ID.FQDN, change.ID.Value)
	}

	metrics.RecordWaitForDNSChange(err == nil)
	if err != nil {
		f.log.Warnf("[DNS-01] 记录未生效 %s (%s): %v", change.ID.FQDN, change.Account.Name, err)
	}
	return err
}

// verify 确认记录值与 key authorization 一致并且已能查到
func (f *Finalizer) verify(ctx context.Context, change Change) error {
	keyAuth, err := f.client.KeyAuthorization(change.Challenge.Token)
	if err != nil {
		return err
	}
	expected := change.Challenge.Validation(keyAuth)
	if expected != change.ID.Value {
		return fmt.Errorf("%s 记录值与验证不符: %w", change.ID.FQDN, ErrVerificationFailed)
	}

	if f.lookup == nil {
		return nil
	}
	values, err := f.lookup.LookupTXT(ctx, f.verifyServer, change.ID.FQDN)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", change.ID.FQDN, err, ErrVerificationFailed)
	}
	for _, v := range values {
		if v == expected {
			return nil
		}
	}
	return fmt.Errorf("%s 未查询到验证值: %w", change.ID.FQDN, ErrVerificationFailed)
}

// deleteAll 删除全部验证记录，错误汇总返回
func (f *Finalizer) deleteAll(ctx context.Context, records []*AuthorizationRecord) error {
	var errs []error
	for _, record := range records {
		if record == nil {
			continue
		}
		for _, change := range record.Changes {
			res, err := deleteChange(ctx, change)
			if err != nil {
				errs = append(errs, fmt.Errorf("删除 %s (%s) 失败: %w", change.ID.FQDN, change.Account.Name, err))
				continue
			}
			f.log.Debugf("[DNS-01] 删除 %s: %s", change.ID.FQDN, res)
		}
	}
	return errors.Join(errs...)
}

// CleanupReport 清理结果
type CleanupReport struct {
	Attempted int
	Deleted   int
	NotFound  int
	Failed    int
	Skipped   int // 提供商不支持清除或主机名已委派
	Errors    []error
}

// OK 全部删除成功（包括本就不存在的记录）
func (r CleanupReport) OK() bool {
	return r.Failed == 0
}

// Cleanup 尽力删除已创建的验证记录
// 单条失败只记录日志和计数，不重试，不返回错误
func (f *Finalizer) Cleanup(ctx context.Context, records []*AuthorizationRecord) CleanupReport {
	var report CleanupReport

	for _, record := range records {
		if record == nil {
			continue
		}
		for _, change := range record.Changes {
			report.Attempted++

			res, err := safeDelete(ctx, change)
			switch {
			case err != nil:
				report.Failed++
				report.Errors = append(report.Errors, err)
				metrics.RecordCleanupError()
				f.log.Warnf("[DNS-01] 清理 %s (%s) 失败: %v", change.ID.FQDN, change.Account.Name, err)
			case res == provider.NotFound:
				report.NotFound++
			default:
				report.Deleted++
			}
		}
	}

	if report.Attempted > 0 {
		f.log.Infof("[DNS-01] 清理完成: 共 %d 条, 删除 %d, 不存在 %d, 失败 %d",
			report.Attempted, report.Deleted, report.NotFound, report.Failed)
	}
	return report
}

// safeDelete 删除时的 panic 也作为错误返回
func safeDelete(ctx context.Context, change Change) (res provider.DeleteResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = provider.NotFound, fmt.Errorf("删除 %s 时 panic: %v", change.ID.FQDN, r)
		}
	}()
	return deleteChange(ctx, change)
}

// deleteChange 签发被取消时仍然要删除记录，所以不继承取消信号
func deleteChange(ctx context.Context, change Change) (provider.DeleteResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	return change.Account.DNS.DeleteTXTRecord(ctx, change.ID)
}
