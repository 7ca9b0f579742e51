package tencent

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ssl "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ssl/v20191205"

	"acme-manager/internal/provider"
)

// sslAPI 用到的SSL证书服务接口
type sslAPI interface {
	UploadCertificate(request *ssl.UploadCertificateRequest) (*ssl.UploadCertificateResponse, error)
}

// CertUploader 把证书上传到腾讯云SSL证书服务
type CertUploader struct {
	client sslAPI
}

// NewCertUploader 创建腾讯云证书上传器
func NewCertUploader(settings provider.Settings) (provider.CertUploader, error) {
	if err := settings.Require("secret_id", "secret_key"); err != nil {
		return nil, err
	}

	credential := common.NewCredential(settings.Credential("secret_id"), settings.Credential("secret_key"))
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "ssl.tencentcloudapi.com"

	region := settings.Credential("region")
	if region == "" {
		region = "ap-guangzhou"
	}

	client, err := ssl.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云SSL客户端失败: %w", err)
	}

	return &CertUploader{client: client}, nil
}

// Name 返回提供商名称
func (u *CertUploader) Name() string {
	return Type
}

// UploadCertificate 上传服务端证书
func (u *CertUploader) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	log.Infof("[腾讯云] 上传证书: %s", name)

	request := ssl.NewUploadCertificateRequest()
	request.CertificatePublicKey = common.StringPtr(cert.Certificate + cert.Chain)
	request.CertificatePrivateKey = common.StringPtr(cert.PrivateKey)
	request.CertificateType = common.StringPtr("SVR")
	request.Alias = common.StringPtr(name)

	response, err := u.client.UploadCertificate(request)
	if err != nil {
		return "", provider.NewProviderError(Type, "UploadCertificate", err)
	}

	var certID string
	if response.Response != nil && response.Response.CertificateId != nil {
		certID = *response.Response.CertificateId
	}
	log.Infof("[腾讯云] 证书上传成功，证书ID: %s", certID)
	return certID, nil
}
