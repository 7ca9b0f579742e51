package provider

import "strings"

// Zone 类型与状态
const (
	ZoneTypePrimary   = "PRIMARY"
	ZoneTypeSecondary = "SECONDARY"

	ZoneStatusActive   = "ACTIVE"
	ZoneStatusInactive = "INACTIVE"
)

// 提供商选项
const (
	// OptionChallengeExtension 追加到验证主机名后面的后缀
	OptionChallengeExtension = "acme_challenge_extension"
)

// Zone DNS区域
type Zone struct {
	ID                string // 提供商侧Zone ID (可能为空)
	Name              string // 完整域名，不带结尾的点
	AuthoritativeType string // PRIMARY / SECONDARY
	Status            string // ACTIVE / INACTIVE
}

// Eligible 只有主Zone且处于激活状态才能写入验证记录
func (z Zone) Eligible() bool {
	return z.AuthoritativeType == ZoneTypePrimary && z.Status == ZoneStatusActive
}

// DNSRecord DNS记录
type DNSRecord struct {
	RecordID string // 记录ID
	Domain   string // 主域名
	RR       string // 主机记录 (子域名)
	Type     string // 记录类型
	Value    string // 记录值
	TTL      int    // TTL
}

// Account 已配置的DNS提供商账号
// 创建后只读，一次签发流程内共享
type Account struct {
	Name    string            // 账号名称 (配置中唯一)
	Type    string            // 提供商类型
	Domains []string          // 该账号托管的域名后缀
	Options map[string]string // 提供商行为选项
	DNS     DNSProvider
}

// ChallengeExtension 返回配置的主机名后缀
func (a *Account) ChallengeExtension() string {
	if a == nil || a.Options == nil {
		return ""
	}
	return a.Options[OptionChallengeExtension]
}

// Settings 创建提供商实例所需的参数
type Settings struct {
	Name        string
	Credentials map[string]string
	Domains     []string
	Options     map[string]string
}

// Credential 读取凭证字段，忽略首尾空白
func (s Settings) Credential(key string) string {
	return strings.TrimSpace(s.Credentials[key])
}

// Require 检查必填凭证字段
func (s Settings) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if s.Credential(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingCredentialError{Provider: s.Name, Keys: missing}
	}
	return nil
}
