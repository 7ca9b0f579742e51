package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-acme/lego/v4/lego"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOrderTimeout = 360 * time.Second
	DefaultKeyType      = "rsa2048"
	DefaultConcurrency  = 4
	MaxConcurrency      = 8
)

// requiredCredentials 各类型DNS提供商的必填凭证
var requiredCredentials = map[string][]string{
	"aliyun":  {"access_key_id", "access_key_secret"},
	"tencent": {"secret_id", "secret_key"},
	"huawei":  {"access_key", "secret_key"},
	"rfc2136": {"nameserver"},
}

// deployTypes 支持证书上传的平台
var deployTypes = map[string]bool{"aliyun": true, "tencent": true, "huawei": true}

// envOverrides 环境变量覆盖项
type envOverrides struct {
	DirectoryURL         string `env:"ACME_DIRECTORY_URL"`
	Email                string `env:"ACME_EMAIL"`
	Telephone            string `env:"ACME_TEL"`
	EnableDelegatedCNAME *bool  `env:"ACME_ENABLE_DELEGATED_CNAME"`
	AccountKeyFile       string `env:"ACME_ACCOUNT_KEY_FILE"`
}

// Load 加载配置文件
// 先读取 .env，再用环境变量覆盖 ACME 相关配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	_ = godotenv.Load()
	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	setDefaults(&config)

	// 验证配置
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnv 环境变量优先于配置文件
func applyEnv(config *Config) error {
	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}

	if overrides.DirectoryURL != "" {
		config.ACME.DirectoryURL = overrides.DirectoryURL
	}
	if overrides.Email != "" {
		config.ACME.Email = overrides.Email
	}
	if overrides.Telephone != "" {
		config.ACME.Telephone = overrides.Telephone
	}
	if overrides.EnableDelegatedCNAME != nil {
		config.ACME.EnableDelegatedCNAME = *overrides.EnableDelegatedCNAME
	}
	if overrides.AccountKeyFile != "" {
		config.ACME.AccountKeyFile = overrides.AccountKeyFile
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.ACME.DirectoryURL == "" {
		config.ACME.DirectoryURL = lego.LEDirectoryProduction
	}
	if config.ACME.OrderTimeout <= 0 {
		config.ACME.OrderTimeout = DefaultOrderTimeout
	}
	if config.ACME.KeyType == "" {
		config.ACME.KeyType = DefaultKeyType
	}

	if config.OutputDir == "" {
		config.OutputDir = "./certs"
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 24
	}
	switch {
	case config.Concurrency <= 0:
		config.Concurrency = DefaultConcurrency
	case config.Concurrency > MaxConcurrency:
		config.Concurrency = MaxConcurrency
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	for i := range config.DNSProviders {
		config.DNSProviders[i].Type = strings.ToLower(strings.TrimSpace(config.DNSProviders[i].Type))
	}
}

// validate 验证配置
func validate(config *Config) error {
	if len(config.Certificates) == 0 {
		return fmt.Errorf("未配置任何证书")
	}
	if len(config.DNSProviders) == 0 {
		return fmt.Errorf("未配置任何DNS提供商")
	}

	names := make(map[string]bool, len(config.DNSProviders))
	for _, p := range config.DNSProviders {
		if p.Name == "" {
			return fmt.Errorf("DNS提供商缺少 name")
		}
		if names[p.Name] {
			return fmt.Errorf("DNS提供商名称重复: %s", p.Name)
		}
		names[p.Name] = true

		if err := validateCredentials(p.Type, p.Credentials); err != nil {
			return fmt.Errorf("DNS提供商 %s: %w", p.Name, err)
		}
		if len(p.Domains) == 0 {
			return fmt.Errorf("DNS提供商 %s: 未配置托管域名", p.Name)
		}
	}

	for _, cert := range config.Certificates {
		if cert.CommonName == "" {
			return fmt.Errorf("证书缺少 common_name")
		}
		if cert.RenewDays <= 0 {
			return fmt.Errorf("证书 %s: renew_days 必须大于 0", cert.CommonName)
		}
		for _, target := range cert.Deploy {
			if !deployTypes[target] {
				return fmt.Errorf("证书 %s: 不支持的部署平台: %s", cert.CommonName, target)
			}
			if err := validateCredentials(target, config.Deploy[target]); err != nil {
				return fmt.Errorf("证书 %s 部署到 %s: %w", cert.CommonName, target, err)
			}
		}
	}

	if config.CheckInterval < 0 {
		return fmt.Errorf("check_interval 不能为负数: %d", config.CheckInterval)
	}

	if config.Webhook != nil && config.Webhook.Enabled && config.Webhook.URL == "" {
		return fmt.Errorf("webhook 已启用但未配置 url")
	}

	return nil
}

// validateCredentials 验证凭证是否完整
func validateCredentials(providerType string, credentials map[string]string) error {
	keys, ok := requiredCredentials[providerType]
	if !ok {
		return fmt.Errorf("不支持的提供商类型: %s", providerType)
	}

	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(credentials[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s 凭证不完整，缺少: %s", providerType, strings.Join(missing, ", "))
	}
	return nil
}
