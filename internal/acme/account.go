package acme

import (
	"crypto"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
)

// LoadAccountKey 读取PEM格式的账号密钥
// 未配置或文件不存在时生成临时 P-256 密钥，不写回磁盘
func LoadAccountKey(path string) (crypto.PrivateKey, error) {
	if path == "" {
		return certcrypto.GeneratePrivateKey(certcrypto.EC256)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return certcrypto.GeneratePrivateKey(certcrypto.EC256)
		}
		return nil, fmt.Errorf("读取账号密钥失败: %w", err)
	}

	key, err := certcrypto.ParsePEMPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("解析账号密钥 %s 失败: %w", path, err)
	}
	return key, nil
}

// ParseKeyType 解析证书私钥类型，例如 rsa2048, ec256
func ParseKeyType(s string) (certcrypto.KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rsa2048":
		return certcrypto.RSA2048, nil
	case "rsa3072":
		return certcrypto.RSA3072, nil
	case "rsa4096":
		return certcrypto.RSA4096, nil
	case "ec256", "p256":
		return certcrypto.EC256, nil
	case "ec384", "p384":
		return certcrypto.EC384, nil
	default:
		return "", fmt.Errorf("不支持的密钥类型: %s", s)
	}
}
