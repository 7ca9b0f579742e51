package core

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	domainpkg "acme-manager/internal/domain"
)

const defaultDialTimeout = 10 * time.Second

// Validator 线上证书检查
type Validator struct {
	timeout time.Duration
	addr    func(host string) string
}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{
		timeout: defaultDialTimeout,
		addr: func(host string) string {
			return net.JoinHostPort(host, "443")
		},
	}
}

// fetch 取线上叶子证书
func (v *Validator) fetch(host string) (*x509.Certificate, error) {
	dialer := &net.Dialer{Timeout: v.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", v.addr(host), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("未找到证书")
	}
	return certs[0], nil
}

// CheckCertExpiry 返回线上证书的过期时间和覆盖的域名 (CN + SANs)
func (v *Validator) CheckCertExpiry(host string) (time.Time, []string, error) {
	cert, err := v.fetch(host)
	if err != nil {
		return time.Time{}, nil, err
	}
	return cert.NotAfter, certNames(cert), nil
}

// NeedRenew 判断是否需要续期
// 连接 domains[0]（通配符去掉 *.）取线上证书，过期临近或未覆盖全部域名时续期
func (v *Validator) NeedRenew(domains []string, renewDays int) (bool, time.Time, error) {
	if len(domains) == 0 {
		return false, time.Time{}, fmt.Errorf("域名列表为空")
	}
	host, _ := domainpkg.StripWildcard(domains[0])
	logger := log.WithField("host", host)

	expiry, names, err := v.CheckCertExpiry(host)
	if err != nil {
		logger.Warnf("无法获取线上证书: %v，将申请新证书", err)
		return true, time.Time{}, nil
	}

	if missing := uncovered(names, domains); len(missing) > 0 {
		logger.Infof("线上证书未覆盖 %v (证书域名: %v)，需要重新申请", missing, names)
		return true, expiry, nil
	}

	days := int(time.Until(expiry).Hours() / 24)
	logger.Infof("线上证书剩余 %d 天 (%s)", days, expiry.Format("2006-01-02"))
	return days <= renewDays, expiry, nil
}

func certNames(cert *x509.Certificate) []string {
	names := make([]string, 0, len(cert.DNSNames)+1)
	if cert.Subject.CommonName != "" {
		names = append(names, cert.Subject.CommonName)
	}
	return append(names, cert.DNSNames...)
}

// uncovered 返回证书名称无法匹配的目标域名
// 目标为通配符时要求证书上有同样的通配符
func uncovered(certNames, targets []string) []string {
	var missing []string
	for _, target := range targets {
		if !slices.ContainsFunc(certNames, func(name string) bool {
			return domainpkg.MatchDomain(name, target)
		}) {
			missing = append(missing, target)
		}
	}
	return missing
}
