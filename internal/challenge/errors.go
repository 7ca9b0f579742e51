package challenge

import "errors"

var (
	// ErrNoProviderForDomain 没有DNS提供商账号托管该域名
	ErrNoProviderForDomain = errors.New("no dns provider for domain")
	// ErrNoDNSChallenge 订单没有为该域名提供 dns-01 验证
	ErrNoDNSChallenge = errors.New("no dns-01 challenge for domain")
	// ErrVerificationFailed 提交前的本地校验失败
	ErrVerificationFailed = errors.New("challenge verification failed")
)
