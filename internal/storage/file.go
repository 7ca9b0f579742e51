package storage

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"acme-manager/internal/acme"
	"acme-manager/internal/domain"
)

const (
	certFile      = "cert.pem"
	keyFile       = "key.pem"
	chainFile     = "chain.pem"
	fullchainFile = "fullchain.pem"
)

// FileStorage 文件存储
// 目录按证书主域名划分，通配符域名使用 _wildcard.<域名>
type FileStorage struct {
	baseDir string
}

// NewFileStorage 创建文件存储
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{baseDir: baseDir}
}

// SaveCertificate 保存证书到文件
func (s *FileStorage) SaveCertificate(name string, cert *acme.Certificate) error {
	outputDir := s.GetCertDir(name)

	// 创建输出目录
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	if len(cert.Certificate) == 0 {
		return fmt.Errorf("证书内容为空")
	}

	// 私钥先写，避免证书与私钥不配套
	if len(cert.PrivateKey) > 0 {
		if err := os.WriteFile(s.GetKeyPath(name), cert.PrivateKey, 0600); err != nil {
			return fmt.Errorf("保存私钥失败: %w", err)
		}
		log.Infof("  - 私钥文件: %s", s.GetKeyPath(name))
	} else {
		log.Warnf("  - 警告: 私钥不可用")
	}

	if err := os.WriteFile(s.GetCertPath(name), cert.Certificate, 0644); err != nil {
		return fmt.Errorf("保存证书失败: %w", err)
	}
	log.Infof("  - 证书文件: %s", s.GetCertPath(name))

	if len(cert.IssuerCertificate) > 0 {
		if err := os.WriteFile(s.GetChainPath(name), cert.IssuerCertificate, 0644); err != nil {
			return fmt.Errorf("保存中间证书失败: %w", err)
		}
	}

	if err := os.WriteFile(s.GetFullchainPath(name), cert.FullChain(), 0644); err != nil {
		return fmt.Errorf("保存证书链失败: %w", err)
	}
	log.Infof("  - 证书链文件: %s", s.GetFullchainPath(name))

	log.Infof("证书已保存到: %s", outputDir)
	return nil
}

// LoadCertificate 读取已保存的证书
func (s *FileStorage) LoadCertificate(name string) (*acme.Certificate, error) {
	certPEM, err := os.ReadFile(s.GetCertPath(name))
	if err != nil {
		return nil, fmt.Errorf("读取证书失败: %w", err)
	}
	keyPEM, err := os.ReadFile(s.GetKeyPath(name))
	if err != nil {
		return nil, fmt.Errorf("读取私钥失败: %w", err)
	}
	chainPEM, err := os.ReadFile(s.GetChainPath(name))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("读取中间证书失败: %w", err)
	}

	return &acme.Certificate{
		Domain:            name,
		Certificate:       certPEM,
		IssuerCertificate: chainPEM,
		PrivateKey:        keyPEM,
	}, nil
}

// Expiry 返回本地证书的过期时间
func (s *FileStorage) Expiry(name string) (time.Time, error) {
	data, err := os.ReadFile(s.GetCertPath(name))
	if err != nil {
		return time.Time{}, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return time.Time{}, fmt.Errorf("%s 不是PEM格式", s.GetCertPath(name))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("解析证书失败: %w", err)
	}
	return cert.NotAfter, nil
}

// GetCertDir 获取证书目录
func (s *FileStorage) GetCertDir(name string) string {
	return filepath.Join(s.baseDir, domain.DirName(name))
}

// GetCertPath 获取证书路径
func (s *FileStorage) GetCertPath(name string) string {
	return filepath.Join(s.GetCertDir(name), certFile)
}

// GetKeyPath 获取私钥路径
func (s *FileStorage) GetKeyPath(name string) string {
	return filepath.Join(s.GetCertDir(name), keyFile)
}

// GetChainPath 获取中间证书路径
func (s *FileStorage) GetChainPath(name string) string {
	return filepath.Join(s.GetCertDir(name), chainFile)
}

// GetFullchainPath 获取完整证书链路径
func (s *FileStorage) GetFullchainPath(name string) string {
	return filepath.Join(s.GetCertDir(name), fullchainFile)
}
