package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"acme-manager/internal/domain"
)

// ErrNotChallengeHost 只允许清空 _acme-challenge 开头的主机名
var ErrNotChallengeHost = errors.New("not an _acme-challenge host")

// DNSProvider DNS提供商接口
// 每个实例绑定一个已配置的DNS账号（凭证在创建时传入）
type DNSProvider interface {
	// Name 返回提供商类型名称
	Name() string

	// GetZones 列出账号下的所有Zone
	GetZones(ctx context.Context) ([]Zone, error)

	// CreateTXTRecord 创建TXT记录
	// fqdn: 完整记录名 (如 _acme-challenge.www.example.com)
	// value: 记录值
	// 记录已存在时只记录日志，不返回错误
	CreateTXTRecord(ctx context.Context, fqdn, value string) (ChangeID, error)

	// DeleteTXTRecord 删除TXT记录，记录不存在时返回 NotFound 而不是错误
	DeleteTXTRecord(ctx context.Context, change ChangeID) (DeleteResult, error)
}

// PropagationWaiter 可选接口：提供商自带的生效检查
// 未实现时由通用的两阶段轮询器负责
type PropagationWaiter interface {
	WaitForDNSChange(ctx context.Context, change ChangeID) error
}

// TXTPurger 可选接口：删除主机名下的全部TXT记录，用于清理以前遗留的验证记录
// 主机名下本就没有记录时返回 NotFound
type TXTPurger interface {
	PurgeTXTRecords(ctx context.Context, fqdn string) (DeleteResult, error)
}

// CheckChallengeHost 拒绝第一个标签不是 _acme-challenge 的主机名
func CheckChallengeHost(fqdn string) error {
	label, _, _ := strings.Cut(domain.Normalize(fqdn), ".")
	if label != domain.ChallengeLabel {
		return fmt.Errorf("%s: %w", fqdn, ErrNotChallengeHost)
	}
	return nil
}

// ChangeID 记录创建后返回的句柄，删除和生效检查都依赖它
type ChangeID struct {
	Zone     string // 所属Zone
	FQDN     string // 完整记录名
	Value    string // 记录值
	RecordID string // 提供商侧记录ID (可能为空)
}

// DeleteResult 删除结果
type DeleteResult int

const (
	// Deleted 记录已删除
	Deleted DeleteResult = iota
	// NotFound 记录不存在
	NotFound
)

func (r DeleteResult) String() string {
	switch r {
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
