package acme

import (
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/certcrypto"
	log "github.com/sirupsen/logrus"
)

const (
	userAgent           = "acme-manager"
	defaultPollInterval = 3 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
	defaultAuthzTimeout = 5 * time.Minute
)

// Options LegoClient 参数
type Options struct {
	DirectoryURL string
	Email        string
	Telephone    string
	AccountKey   crypto.PrivateKey
	KeyType      certcrypto.KeyType // 证书私钥类型
	HTTPClient   *http.Client
	PollInterval time.Duration
	// AuthorizationTimeout ctx 没有截止时间时等待单个授权的上限
	AuthorizationTimeout time.Duration
}

// LegoClient 基于 lego 底层API的 Client 实现
type LegoClient struct {
	core         *api.Core
	keyType      certcrypto.KeyType
	pollInterval time.Duration
	authzTimeout time.Duration
}

// NewLegoClient 连接ACME目录并创建账号
// 账号不持久化，每次启动使用给定的账号密钥重新注册（服务器对已有密钥返回原账号）
func NewLegoClient(opts Options) (*LegoClient, error) {
	if opts.DirectoryURL == "" {
		return nil, errors.New("ACME目录地址不能为空")
	}
	if opts.AccountKey == nil {
		return nil, errors.New("ACME账号密钥不能为空")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	core, err := api.New(httpClient, userAgent, opts.DirectoryURL, "", opts.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("连接ACME目录 %s 失败: %w", opts.DirectoryURL, err)
	}

	account, err := core.Accounts.New(legoacme.Account{
		Contact:              contacts(opts.Email, opts.Telephone),
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("创建ACME账号失败: %w", err)
	}
	log.Infof("[ACME] 账号: %s", account.Location)

	keyType := opts.KeyType
	if keyType == "" {
		keyType = certcrypto.RSA2048
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	authzTimeout := opts.AuthorizationTimeout
	if authzTimeout <= 0 {
		authzTimeout = defaultAuthzTimeout
	}

	return &LegoClient{core: core, keyType: keyType, pollInterval: interval, authzTimeout: authzTimeout}, nil
}

func contacts(email, tel string) []string {
	var out []string
	if email != "" {
		out = append(out, "mailto:"+email)
	}
	if tel != "" {
		out = append(out, "tel:"+tel)
	}
	return out
}

// NewOrder 创建订单
func (c *LegoClient) NewOrder(ctx context.Context, domains []string) (*Order, error) {
	extOrder, err := c.core.Orders.New(domains)
	if err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	order := &Order{
		URL:            extOrder.Location,
		Status:         extOrder.Status,
		FinalizeURL:    extOrder.Finalize,
		CertificateURL: extOrder.Certificate,
	}
	for _, id := range extOrder.Identifiers {
		order.Identifiers = append(order.Identifiers, id.Value)
	}

	for _, authzURL := range extOrder.Authorizations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		authz, err := c.core.Authorizations.Get(authzURL)
		if err != nil {
			return nil, fmt.Errorf("获取授权 %s 失败: %w", authzURL, err)
		}
		order.Authorizations = append(order.Authorizations, convertAuthorization(authzURL, authz))
	}

	log.Infof("[ACME] 订单已创建: %s (%d 个授权)", order.URL, len(order.Authorizations))
	return order, nil
}

func convertAuthorization(authzURL string, authz legoacme.Authorization) Authorization {
	out := Authorization{
		URL:        authzURL,
		Identifier: authz.Identifier.Value,
		Wildcard:   authz.Wildcard,
		Status:     authz.Status,
	}
	for _, ch := range authz.Challenges {
		out.Challenges = append(out.Challenges, Challenge{
			Type:   ch.Type,
			URL:    ch.URL,
			Token:  ch.Token,
			Status: ch.Status,
		})
	}
	return out
}

// KeyAuthorization 计算 key authorization
func (c *LegoClient) KeyAuthorization(token string) (string, error) {
	return c.core.GetKeyAuthorization(token)
}

// AnswerChallenge 通知服务器开始验证
func (c *LegoClient) AnswerChallenge(ctx context.Context, ch Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.core.Challenges.New(ch.URL); err != nil {
		return fmt.Errorf("提交验证 %s 失败: %w", ch.URL, err)
	}
	return nil
}

// WaitAuthorization 轮询授权状态直到 valid/invalid 或 ctx 结束
// ctx 没有截止时间时最多等待 AuthorizationTimeout
func (c *LegoClient) WaitAuthorization(ctx context.Context, authz Authorization) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.authzTimeout)
		defer cancel()
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		a, err := c.core.Authorizations.Get(authz.URL)
		if err != nil {
			return struct{}{}, err
		}
		switch a.Status {
		case legoacme.StatusValid:
			return struct{}{}, nil
		case legoacme.StatusInvalid:
			return struct{}{}, backoff.Permanent(authorizationError(authz.Identifier, a))
		default:
			return struct{}{}, fmt.Errorf("授权 %s 状态为 %s", authz.Identifier, a.Status)
		}
	}, c.retryOptions()...)
	return err
}

func authorizationError(identifier string, a legoacme.Authorization) error {
	var details []string
	for _, ch := range a.Challenges {
		if ch.Error != nil {
			details = append(details, fmt.Sprintf("%s: %v", ch.Type, ch.Error))
		}
	}
	if len(details) == 0 {
		return fmt.Errorf("%s: %w", identifier, ErrAuthorizationInvalid)
	}
	return fmt.Errorf("%s: %w (%s)", identifier, ErrAuthorizationInvalid, strings.Join(details, "; "))
}

// FinalizeOrder 等待授权、提交CSR、等待签发并下载证书
// 整个过程受 deadline 约束
func (c *LegoClient) FinalizeOrder(ctx context.Context, order *Order, domains []string, deadline time.Time) (*Certificate, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for _, authz := range order.Authorizations {
		if err := c.WaitAuthorization(ctx, authz); err != nil {
			return nil, err
		}
	}

	privateKey, err := certcrypto.GeneratePrivateKey(c.keyType)
	if err != nil {
		return nil, fmt.Errorf("生成证书私钥失败: %w", err)
	}

	csr, err := certcrypto.GenerateCSR(privateKey, domains[0], domains, false)
	if err != nil {
		return nil, fmt.Errorf("生成CSR失败: %w", err)
	}

	if _, err := c.core.Orders.UpdateForCSR(order.FinalizeURL, csr); err != nil {
		return nil, fmt.Errorf("提交CSR失败: %w", err)
	}

	certURL, err := backoff.Retry(ctx, func() (string, error) {
		o, err := c.core.Orders.Get(order.URL)
		if err != nil {
			return "", err
		}
		switch o.Status {
		case legoacme.StatusValid:
			if o.Certificate == "" {
				return "", errors.New("订单已完成但没有证书地址")
			}
			return o.Certificate, nil
		case legoacme.StatusInvalid:
			return "", backoff.Permanent(fmt.Errorf("%s: %w", order.URL, ErrOrderInvalid))
		default:
			return "", fmt.Errorf("订单状态为 %s", o.Status)
		}
	}, c.retryOptions()...)
	if err != nil {
		return nil, fmt.Errorf("等待签发失败: %w", err)
	}

	cert, issuer, err := c.core.Certificates.Get(certURL, false)
	if err != nil {
		return nil, fmt.Errorf("下载证书失败: %w", err)
	}

	log.Infof("[ACME] 证书已签发: %s", certURL)
	return &Certificate{
		Domain:            domains[0],
		Certificate:       cert,
		IssuerCertificate: issuer,
		PrivateKey:        certcrypto.PEMEncode(privateKey),
		CertURL:           certURL,
	}, nil
}

// RevokeCertificate 吊销证书
func (c *LegoClient) RevokeCertificate(ctx context.Context, certPEM []byte, reason uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := revokeMessage(certPEM, reason)
	if err != nil {
		return err
	}
	if err := c.core.Certificates.Revoke(msg); err != nil {
		return fmt.Errorf("吊销证书失败: %w", err)
	}
	log.Infof("[ACME] 证书已吊销 (原因码: %d)", reason)
	return nil
}

// revokeMessage 取证书链中的叶子证书构造吊销请求
func revokeMessage(certPEM []byte, reason uint) (legoacme.RevokeCertMessage, error) {
	certs, err := certcrypto.ParsePEMBundle(certPEM)
	if err != nil {
		return legoacme.RevokeCertMessage{}, fmt.Errorf("解析证书失败: %w", err)
	}
	leaf := certs[0]
	if leaf.IsCA {
		return legoacme.RevokeCertMessage{}, errors.New("证书链的第一张是CA证书")
	}
	if reason > legoacme.CRLReasonAACompromise || reason == 7 {
		return legoacme.RevokeCertMessage{}, fmt.Errorf("无效的吊销原因码: %d", reason)
	}
	return legoacme.RevokeCertMessage{
		Certificate: base64.RawURLEncoding.EncodeToString(leaf.Raw),
		Reason:      &reason,
	}, nil
}

func (c *LegoClient) retryOptions() []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(0),
	}
}
