package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrZoneNotFound 没有任何Zone是域名的后缀
	ErrZoneNotFound = errors.New("zone not found")
	// ErrZoneConflict 同一账号下存在同样具体的重叠Zone
	ErrZoneConflict = errors.New("conflicting zones")
	// ErrUnknownProvider 未注册的提供商类型
	ErrUnknownProvider = errors.New("unknown dns provider")
)

// ProviderError DNS提供商API调用失败
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError 包装提供商错误
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// MissingCredentialError 凭证字段缺失
type MissingCredentialError struct {
	Provider string
	Keys     []string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s 凭证不完整，缺少: %s", e.Provider, strings.Join(e.Keys, ", "))
}
