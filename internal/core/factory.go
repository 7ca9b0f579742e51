package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/acme"
	"acme-manager/internal/challenge"
	"acme-manager/internal/config"
	"acme-manager/internal/propagation"
	"acme-manager/internal/provider"
	"acme-manager/internal/provider/aliyun"
	"acme-manager/internal/provider/huawei"
	"acme-manager/internal/provider/rfc2136"
	"acme-manager/internal/provider/tencent"
	"acme-manager/internal/resolver"
)

// NewRegistry 注册全部DNS提供商类型
func NewRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.Register(aliyun.Type, aliyun.NewDNSProvider)
	r.Register(tencent.Type, tencent.NewDNSProvider)
	r.Register(huawei.Type, huawei.NewDNSProvider)
	r.Register(rfc2136.Type, rfc2136.NewDNSProvider)
	return r
}

// uploaderConstructors 支持证书部署的平台
var uploaderConstructors = map[string]func(provider.Settings) (provider.CertUploader, error){
	aliyun.Type:  aliyun.NewCertUploader,
	tencent.Type: tencent.NewCertUploader,
	huawei.Type:  huawei.NewCertUploader,
}

const (
	// ACME服务偶尔不可用，启动时按固定间隔重试
	setupAttempts = 5
	setupInterval = 5 * time.Second
)

// Factory 提供商工厂
type Factory struct {
	config   *config.Config
	registry *provider.Registry

	newLegoClient func(acme.Options) (*acme.LegoClient, error)
	setupInterval time.Duration

	// 缓存已创建的上传器
	mu        sync.Mutex
	uploaders map[string]provider.CertUploader
}

// NewFactory 创建工厂
func NewFactory(cfg *config.Config, registry *provider.Registry) *Factory {
	return &Factory{
		config:        cfg,
		registry:      registry,
		newLegoClient: acme.NewLegoClient,
		setupInterval: setupInterval,
		uploaders:     make(map[string]provider.CertUploader),
	}
}

// BuildAccounts 按配置创建全部DNS账号，返回只读快照
func (f *Factory) BuildAccounts() ([]*provider.Account, error) {
	cfgs := make([]provider.AccountConfig, 0, len(f.config.DNSProviders))
	for _, p := range f.config.DNSProviders {
		cfgs = append(cfgs, provider.AccountConfig{
			Type: p.Type,
			Settings: provider.Settings{
				Name:        p.Name,
				Credentials: p.Credentials,
				Domains:     p.Domains,
				Options:     p.Options,
			},
		})
	}
	return f.registry.Build(cfgs)
}

// GetCertUploader 获取证书上传器
func (f *Factory) GetCertUploader(target string) (provider.CertUploader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// 检查缓存
	if u, ok := f.uploaders[target]; ok {
		return u, nil
	}

	newUploader, ok := uploaderConstructors[target]
	if !ok {
		return nil, fmt.Errorf("不支持的部署平台: %s", target)
	}
	u, err := newUploader(provider.Settings{Name: target, Credentials: f.config.Deploy[target]})
	if err != nil {
		return nil, err
	}

	f.uploaders[target] = u
	return u, nil
}

// NewACMEClient 连接ACME服务并注册账号
// 网络错误按固定间隔重试，密钥和配置错误直接返回
func (f *Factory) NewACMEClient(ctx context.Context) (*acme.LegoClient, error) {
	key, err := acme.LoadAccountKey(f.config.ACME.AccountKeyFile)
	if err != nil {
		return nil, err
	}
	keyType, err := acme.ParseKeyType(f.config.ACME.KeyType)
	if err != nil {
		return nil, err
	}

	opts := acme.Options{
		DirectoryURL:         f.config.ACME.DirectoryURL,
		Email:                f.config.ACME.Email,
		Telephone:            f.config.ACME.Telephone,
		AccountKey:           key,
		KeyType:              keyType,
		AuthorizationTimeout: f.config.ACME.OrderTimeout,
	}
	if opts.DirectoryURL == "" {
		return nil, errors.New("ACME目录地址不能为空")
	}

	attempt := 0
	return backoff.Retry(ctx, func() (*acme.LegoClient, error) {
		attempt++
		client, err := f.newLegoClient(opts)
		if err != nil {
			log.Warnf("[ACME] 初始化客户端失败 (第 %d/%d 次): %v", attempt, setupAttempts, err)
		}
		return client, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(f.setupInterval)),
		backoff.WithMaxTries(setupAttempts),
	)
}

// newDNSResolver 创建递归查询用的解析器
func (f *Factory) newDNSResolver() *resolver.Resolver {
	if ns := f.config.Propagation.CNAMEResolver; ns != "" {
		return resolver.New(ns)
	}
	return resolver.New()
}

// NewPurger 创建残留验证记录的清除器
func (f *Factory) NewPurger(accounts []*provider.Account) *challenge.Purger {
	return challenge.NewPurger(
		challenge.NewDomainResolver(accounts),
		challenge.NewCNAMEResolver(f.config.ACME.EnableDelegatedCNAME, f.newDNSResolver()),
		log.WithField("component", "purge"),
	)
}

// NewIssuer 按配置组装签发流程
func (f *Factory) NewIssuer(client acme.Client, accounts []*provider.Account) *Issuer {
	pc := f.config.Propagation

	dnsResolver := f.newDNSResolver()
	log.Debugf("[DNS-01] 递归查询服务器: %v", dnsResolver.Nameservers())

	policy := propagation.DefaultRetryPolicy()
	if pc.MaxAttempts > 0 {
		policy.MaxAttempts = pc.MaxAttempts
	}
	if pc.Interval > 0 {
		policy.BackOff = backoff.NewConstantBackOff(pc.Interval)
	}
	if pc.AttemptTimeout > 0 {
		policy.AttemptTimeout = pc.AttemptTimeout
	}

	if pc.AuthoritativeResolver == "" {
		log.Infof("[DNS-01] 未配置 authoritative_resolver，使用默认 %s", propagation.DefaultAuthoritativeResolver)
	}

	publicResolver := pc.PublicResolver
	if publicResolver == "" {
		publicResolver = propagation.DefaultPublicResolver
	}

	poller := propagation.NewPoller(dnsResolver, resolver.WithPort(pc.AuthoritativeResolver), resolver.WithPort(publicResolver), policy)
	if pc.Interval > 0 {
		poller.Settle = pc.Interval
	}

	return NewIssuer(client, IssuerOptions{
		Accounts:     accounts,
		CNAME:        challenge.NewCNAMEResolver(f.config.ACME.EnableDelegatedCNAME, dnsResolver),
		Waiter:       poller,
		Lookup:       dnsResolver,
		VerifyServer: resolver.WithPort(publicResolver),
		AnswerDelay:  pc.AnswerDelay,
		Concurrency:  f.config.Concurrency,
		OrderTimeout: f.config.ACME.OrderTimeout,
		Logger:       log.WithField("component", "issuer"),
	})
}
