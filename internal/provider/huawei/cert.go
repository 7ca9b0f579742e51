package huawei

import (
	"context"
	"fmt"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	scm "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/scm/v3"
	scmModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/scm/v3/model"
	scmRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/scm/v3/region"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/provider"
)

// scmAPI 用到的云证书管理服务接口
type scmAPI interface {
	ImportCertificate(request *scmModel.ImportCertificateRequest) (*scmModel.ImportCertificateResponse, error)
}

// CertUploader 把证书导入华为云证书管理服务
type CertUploader struct {
	client scmAPI
}

// NewCertUploader 创建华为云证书上传器
func NewCertUploader(settings provider.Settings) (provider.CertUploader, error) {
	if err := settings.Require("access_key", "secret_key"); err != nil {
		return nil, err
	}

	auth := basic.NewCredentialsBuilder().
		WithAk(settings.Credential("access_key")).
		WithSk(settings.Credential("secret_key")).
		Build()

	region := settings.Credential("region")
	if region == "" {
		region = defaultRegion
	}

	regionObj, err := scmRegion.SafeValueOf(region)
	if err != nil {
		return nil, fmt.Errorf("无效的区域: %s", region)
	}

	client := scm.NewScmClient(
		scm.ScmClientBuilder().
			WithRegion(regionObj).
			WithCredential(auth).
			Build())

	return &CertUploader{client: client}, nil
}

// Name 返回提供商名称
func (u *CertUploader) Name() string {
	return Type
}

// UploadCertificate 导入证书
func (u *CertUploader) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	log.Infof("[华为云] 导入证书: %s", name)

	response, err := u.client.ImportCertificate(&scmModel.ImportCertificateRequest{
		Body: &scmModel.ImportCertificateRequestBody{
			Name:             name,
			Certificate:      cert.Certificate,
			CertificateChain: &cert.Chain,
			PrivateKey:       cert.PrivateKey,
		},
	})
	if err != nil {
		return "", provider.NewProviderError(Type, "ImportCertificate", err)
	}

	var certID string
	if response.CertificateId != nil {
		certID = *response.CertificateId
	}
	log.Infof("[华为云] 证书导入成功，证书ID: %s", certID)
	return certID, nil
}
