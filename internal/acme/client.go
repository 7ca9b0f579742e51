// Package acme ACME协议交互的边界
//
// 签发流程只依赖 Client 接口，LegoClient 是基于 lego 的实现。
package acme

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuthorizationInvalid 授权最终状态为 invalid
	ErrAuthorizationInvalid = errors.New("authorization invalid")
	// ErrOrderInvalid 订单最终状态为 invalid
	ErrOrderInvalid = errors.New("order invalid")
)

// Client ACME客户端
type Client interface {
	// NewOrder 为域名创建订单并拉取全部授权
	NewOrder(ctx context.Context, domains []string) (*Order, error)

	// KeyAuthorization 计算 token 对应的 key authorization
	KeyAuthorization(token string) (string, error)

	// AnswerChallenge 通知服务器开始验证
	AnswerChallenge(ctx context.Context, ch Challenge) error

	// WaitAuthorization 等待授权变为 valid
	WaitAuthorization(ctx context.Context, authz Authorization) error

	// FinalizeOrder 提交CSR并下载证书，deadline 之后放弃
	FinalizeOrder(ctx context.Context, order *Order, domains []string, deadline time.Time) (*Certificate, error)
}

// Revoker 吊销已签发的证书
type Revoker interface {
	// RevokeCertificate 吊销 certPEM 中的第一张证书，reason 为 RFC 5280 吊销原因码
	RevokeCertificate(ctx context.Context, certPEM []byte, reason uint) error
}
