package config

import "time"

// Config 配置结构
type Config struct {
	// ACME 服务配置
	ACME ACMEConfig `yaml:"acme"`

	// DNS生效检查配置
	Propagation PropagationConfig `yaml:"propagation"`

	// DNS提供商账号
	DNSProviders []DNSProviderConfig `yaml:"dns_providers"`

	// 证书配置
	Certificates []CertificateConfig `yaml:"certificates"`

	// 证书部署凭证，按平台类型配置
	Deploy map[string]map[string]string `yaml:"deploy,omitempty"`

	// 全局配置
	OutputDir     string `yaml:"output_dir"`
	CheckInterval int    `yaml:"check_interval"` // 检查间隔（小时）
	PostCommand   string `yaml:"post_command"`   // 全局后置命令
	Concurrency   int    `yaml:"concurrency"`    // 并发处理数，默认4，最大8
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`   // text 或 json
	MetricsAddr   string `yaml:"metrics_addr"` // 守护进程模式下的指标监听地址，为空时不启用

	// Webhook 通知配置
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
}

// ACMEConfig ACME 服务配置
type ACMEConfig struct {
	DirectoryURL         string        `yaml:"directory_url"`
	Email                string        `yaml:"email"`
	Telephone            string        `yaml:"telephone"`
	AccountKeyFile       string        `yaml:"account_key_file"` // 为空或不存在时使用临时账号密钥
	EnableDelegatedCNAME bool          `yaml:"enable_delegated_cname"`
	OrderTimeout         time.Duration `yaml:"order_timeout"` // 订单完成的最长时间，默认360s
	KeyType              string        `yaml:"key_type"`      // 证书私钥类型，默认 rsa2048
}

// PropagationConfig DNS生效检查配置
type PropagationConfig struct {
	AuthoritativeResolver string        `yaml:"authoritative_resolver"`
	PublicResolver        string        `yaml:"public_resolver"`
	CNAMEResolver         string        `yaml:"cname_resolver"` // CNAME查询使用的服务器，为空时读取系统配置
	MaxAttempts           int           `yaml:"max_attempts"`
	Interval              time.Duration `yaml:"interval"`
	AttemptTimeout        time.Duration `yaml:"attempt_timeout"`
	AnswerDelay           time.Duration `yaml:"answer_delay"` // 本地校验通过后提交验证前的等待
}

// DNSProviderConfig DNS提供商账号配置
type DNSProviderConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"` // aliyun, tencent, huawei, rfc2136
	Credentials map[string]string `yaml:"credentials"`
	Domains     []string          `yaml:"domains"` // 该账号托管的域名
	Options     map[string]string `yaml:"options,omitempty"`
}

// CertificateConfig 证书配置
type CertificateConfig struct {
	CommonName  string   `yaml:"common_name"`
	SANs        []string `yaml:"sans,omitempty"`
	RenewDays   int      `yaml:"renew_days"`
	PostCommand string   `yaml:"post_command,omitempty"`
	Deploy      []string `yaml:"deploy,omitempty"` // 签发后上传到的平台
	Force       bool     `yaml:"force,omitempty"`  // 跳过线上证书检查，总是重新签发
}

// Domains 返回证书上的全部域名，common name 在前
func (c *CertificateConfig) Domains() []string {
	domains := make([]string, 0, len(c.SANs)+1)
	domains = append(domains, c.CommonName)
	return append(domains, c.SANs...)
}

// WebhookConfig Webhook 通知配置
type WebhookConfig struct {
	Enabled      bool              `yaml:"enabled"`                 // 是否启用
	URL          string            `yaml:"url"`                     // Webhook URL
	Headers      map[string]string `yaml:"headers,omitempty"`       // 自定义请求头
	Events       []string          `yaml:"events,omitempty"`        // 订阅的事件类型
	Timeout      int               `yaml:"timeout,omitempty"`       // 请求超时时间（秒），默认30
	Retries      int               `yaml:"retries,omitempty"`       // 重试次数，默认3
	BodyTemplate string            `yaml:"body_template,omitempty"` // 请求体模板（JSON格式）
}
