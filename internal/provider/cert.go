package provider

import "context"

// CertUploader 证书部署接口，把签发好的证书上传到云平台证书服务
type CertUploader interface {
	// Name 返回提供商名称
	Name() string

	// UploadCertificate 上传证书，返回云平台侧证书ID
	UploadCertificate(ctx context.Context, name string, cert *Certificate) (certID string, err error)
}

// Certificate 证书内容
type Certificate struct {
	Certificate string // 证书内容 (PEM格式)
	PrivateKey  string // 私钥 (PEM格式)
	Chain       string // 证书链 (可选)
}
