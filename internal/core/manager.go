package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"acme-manager/internal/acme"
	"acme-manager/internal/challenge"
	"acme-manager/internal/config"
	"acme-manager/internal/metrics"
	"acme-manager/internal/notification"
	"acme-manager/internal/propagation"
	"acme-manager/internal/provider"
	"acme-manager/internal/storage"
)

// certIssuer 签发一张证书
type certIssuer interface {
	Issue(ctx context.Context, domains []string) (*Issuance, error)
}

// renewChecker 判断线上证书是否需要续期
type renewChecker interface {
	NeedRenew(domains []string, renewDays int) (bool, time.Time, error)
}

// stalePurger 清除残留的验证记录
type stalePurger interface {
	Purge(ctx context.Context, domains []string) challenge.CleanupReport
}

// Manager 证书管理器
type Manager struct {
	config    *config.Config
	issuer    certIssuer
	purger    stalePurger
	revoker   acme.Revoker
	storage   *storage.FileStorage
	validator renewChecker
	executor  *Executor
	notifier  *notification.WebhookNotifier
	uploader  func(target string) (provider.CertUploader, error)
}

// NewManager 创建管理器，连接ACME服务并创建全部DNS账号
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	factory := NewFactory(cfg, NewRegistry())

	accounts, err := factory.BuildAccounts()
	if err != nil {
		return nil, err
	}

	client, err := factory.NewACMEClient(ctx)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:    cfg,
		issuer:    factory.NewIssuer(client, accounts),
		purger:    factory.NewPurger(accounts),
		revoker:   client,
		storage:   storage.NewFileStorage(cfg.OutputDir),
		validator: NewValidator(),
		executor:  NewExecutor(),
		notifier:  notification.NewWebhookNotifier(cfg.Webhook),
		uploader:  factory.GetCertUploader,
	}, nil
}

// Run 逐个检查所有证书
// 并发只发生在单张证书的域名之间 (concurrency)，证书之间串行，避免两级并发叠加
func (m *Manager) Run(ctx context.Context) error {
	log.Info("========== 开始检查证书 ==========")

	var errs []error
	for _, certCfg := range m.config.Certificates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.ProcessCertificate(ctx, certCfg); err != nil {
			log.Errorf("处理证书 %s 失败: %v", certCfg.CommonName, err)
			errs = append(errs, fmt.Errorf("%s: %w", certCfg.CommonName, err))
		}
	}

	log.Info("========== 检查完成 ==========")
	return errors.Join(errs...)
}

// Issue 立即签发指定的证书，跳过续期检查
func (m *Manager) Issue(ctx context.Context, commonName string) error {
	certCfg, err := m.certificate(commonName)
	if err != nil {
		return err
	}
	certCfg.Force = true
	return m.ProcessCertificate(ctx, certCfg)
}

// Purge 清除证书全部域名下残留的 _acme-challenge 记录集
func (m *Manager) Purge(ctx context.Context, commonName string) (challenge.CleanupReport, error) {
	certCfg, err := m.certificate(commonName)
	if err != nil {
		return challenge.CleanupReport{}, err
	}

	report := m.purger.Purge(ctx, certCfg.Domains())
	if len(report.Errors) > 0 {
		return report, fmt.Errorf("清除 %s 的验证记录失败: %w", commonName, errors.Join(report.Errors...))
	}
	return report, nil
}

// Revoke 吊销本地保存的证书
// 账号每次启动重新注册，只有固定账号密钥时才是签发该证书的账号
func (m *Manager) Revoke(ctx context.Context, commonName string, reason uint) error {
	if _, err := m.certificate(commonName); err != nil {
		return err
	}
	if m.config.ACME.AccountKeyFile == "" {
		return errors.New("吊销证书需要配置 acme.account_key_file")
	}

	cert, err := m.storage.LoadCertificate(commonName)
	if err != nil {
		return err
	}

	err = m.revoker.RevokeCertificate(ctx, cert.Certificate, reason)
	metrics.RecordRevokeCertificate(err == nil)
	if err != nil {
		return fmt.Errorf("吊销 %s 失败: %w", commonName, err)
	}

	log.Infof("证书 %s 已吊销", commonName)
	return nil
}

func (m *Manager) certificate(commonName string) (config.CertificateConfig, error) {
	for _, certCfg := range m.config.Certificates {
		if certCfg.CommonName == commonName {
			return certCfg, nil
		}
	}
	return config.CertificateConfig{}, fmt.Errorf("未配置证书: %s", commonName)
}

// ProcessCertificate 处理单张证书
func (m *Manager) ProcessCertificate(ctx context.Context, certCfg config.CertificateConfig) error {
	domains := certCfg.Domains()
	name := certCfg.CommonName

	log.Infof("========== 处理证书: %s ==========", name)
	if len(domains) > 1 {
		log.Infof("  附加域名: %s", strings.Join(domains[1:], ", "))
	}

	// 1. 检查是否需要续期
	if !certCfg.Force {
		needRenew, expiry, err := m.validator.NeedRenew(domains, certCfg.RenewDays)
		if err != nil {
			log.Warnf("检查线上证书失败: %v", err)
		}
		if !needRenew {
			log.Infof("线上证书有效，无需续期")
			return nil
		}
		if !expiry.IsZero() {
			log.Infof("线上证书将在 %s 过期，需要续期", expiry.Format("2006-01-02"))
		}
	} else {
		log.Infof("强制签发，跳过线上证书检查")
	}

	// 2. 签发
	iss, err := m.issuer.Issue(ctx, domains)
	if err != nil {
		m.notifyFailure(ctx, name, iss, err)
		return fmt.Errorf("签发证书失败: %w", err)
	}

	// 3. 保存
	if err := m.storage.SaveCertificate(name, iss.Certificate); err != nil {
		m.notifyFailure(ctx, name, iss, err)
		return fmt.Errorf("保存证书失败: %w", err)
	}

	notAfter, err := m.storage.Expiry(name)
	if err != nil {
		log.Warnf("读取证书有效期失败: %v", err)
	}
	_ = m.notifier.NotifyCertRenewed(ctx, name, iss.AttemptID, notAfter)

	// 4. 部署，失败不影响后续步骤
	m.deploy(ctx, certCfg, iss.Certificate)

	// 5. 执行后置命令
	postCommand := certCfg.PostCommand
	if postCommand == "" {
		postCommand = m.config.PostCommand
	}
	if postCommand != "" {
		vars := m.executor.BuildVars(
			name,
			m.storage.GetCertDir(name),
			m.storage.GetCertPath(name),
			m.storage.GetKeyPath(name),
			m.storage.GetChainPath(name),
			m.storage.GetFullchainPath(name),
		)
		if err := m.executor.RunPostCommand(ctx, postCommand, vars); err != nil {
			log.Errorf("执行后置命令失败: %v", err)
		}
	}

	log.Infof("证书 %s 处理完成！", name)
	return nil
}

// deploy 上传证书到配置的云平台
func (m *Manager) deploy(ctx context.Context, certCfg config.CertificateConfig, cert *acme.Certificate) {
	if len(certCfg.Deploy) == 0 {
		return
	}

	uploadName := fmt.Sprintf("%s-%s", strings.ReplaceAll(certCfg.CommonName, "*", "wildcard"), time.Now().Format("20060102150405"))
	payload := &provider.Certificate{
		Certificate: string(cert.Certificate),
		PrivateKey:  string(cert.PrivateKey),
		Chain:       string(cert.IssuerCertificate),
	}

	for _, target := range certCfg.Deploy {
		uploader, err := m.uploader(target)
		if err != nil {
			log.Errorf("创建 %s 证书上传器失败: %v", target, err)
			continue
		}
		certID, err := uploader.UploadCertificate(ctx, uploadName, payload)
		if err != nil {
			log.Errorf("上传证书到 %s 失败: %v", target, err)
			continue
		}
		log.Infof("证书已上传到 %s，证书ID: %s", target, certID)
	}
}

// notifyFailure 按失败原因发送通知
func (m *Manager) notifyFailure(ctx context.Context, name string, iss *Issuance, err error) {
	attemptID := ""
	if iss != nil {
		attemptID = iss.AttemptID
		if iss.Cleanup != nil && !iss.Cleanup.OK() {
			_ = m.notifier.NotifyCleanupFailed(ctx, name, attemptID, iss.Cleanup.Failed)
		}
	}
	if errors.Is(err, propagation.ErrPropagationTimeout) {
		_ = m.notifier.NotifyDNSTimeout(ctx, name, attemptID)
	}
	_ = m.notifier.NotifyCertFailed(ctx, name, attemptID, err.Error())
}
