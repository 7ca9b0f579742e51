package aliyun

import (
	"context"
	"fmt"
	"strconv"

	cas "github.com/alibabacloud-go/cas-20200407/v3/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/provider"
)

// casAPI 用到的数字证书管理服务接口
type casAPI interface {
	UploadUserCertificate(request *cas.UploadUserCertificateRequest) (*cas.UploadUserCertificateResponse, error)
}

// CertUploader 把证书上传到阿里云数字证书管理服务
type CertUploader struct {
	client casAPI
}

// NewCertUploader 创建阿里云证书上传器
func NewCertUploader(settings provider.Settings) (provider.CertUploader, error) {
	if err := settings.Require("access_key_id", "access_key_secret"); err != nil {
		return nil, err
	}

	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(settings.Credential("access_key_id")),
		AccessKeySecret: tea.String(settings.Credential("access_key_secret")),
		Endpoint:        tea.String("cas.aliyuncs.com"),
	}

	client, err := cas.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云CAS客户端失败: %w", err)
	}

	return &CertUploader{client: client}, nil
}

// Name 返回提供商名称
func (u *CertUploader) Name() string {
	return Type
}

// UploadCertificate 上传证书
// 阿里云要求证书字段包含完整证书链
func (u *CertUploader) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	log.Infof("[阿里云] 上传证书: %s", name)

	response, err := u.client.UploadUserCertificate(&cas.UploadUserCertificateRequest{
		Name: tea.String(name),
		Cert: tea.String(fullChain(cert)),
		Key:  tea.String(cert.PrivateKey),
	})
	if err != nil {
		return "", provider.NewProviderError(Type, "UploadUserCertificate", err)
	}

	var certID string
	if response.Body != nil {
		certID = strconv.FormatInt(tea.Int64Value(response.Body.CertId), 10)
	}
	log.Infof("[阿里云] 证书上传成功，证书ID: %s", certID)
	return certID, nil
}

func fullChain(cert *provider.Certificate) string {
	if cert.Chain == "" {
		return cert.Certificate
	}
	return cert.Certificate + cert.Chain
}
