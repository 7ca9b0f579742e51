package acme

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/go-acme/lego/v4/challenge"

	"acme-manager/internal/domain"
)

// ChallengeTypeDNS01 dns-01 验证类型
var ChallengeTypeDNS01 = challenge.DNS01.String()

// 授权与订单状态
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
)

// Order ACME订单
type Order struct {
	URL            string
	Status         string
	Identifiers    []string
	Authorizations []Authorization
	FinalizeURL    string
	CertificateURL string
}

// Authorization 单个标识的授权
type Authorization struct {
	URL        string
	Identifier string // 不带 *. 的域名
	Wildcard   bool
	Status     string
	Challenges []Challenge
}

// DNSChallenges 返回授权中的 dns-01 验证
func (a Authorization) DNSChallenges() []Challenge {
	var out []Challenge
	for _, c := range a.Challenges {
		if c.Type == ChallengeTypeDNS01 {
			out = append(out, c)
		}
	}
	return out
}

// Challenge 验证
type Challenge struct {
	Type   string
	URL    string
	Token  string
	Status string
}

// ValidationDomainName 返回 host 的验证记录名
func (c Challenge) ValidationDomainName(host string) string {
	return domain.ChallengeHost(strings.TrimSuffix(host, "."))
}

// Validation 由 key authorization 计算TXT记录值
func (c Challenge) Validation(keyAuthorization string) string {
	sum := sha256.Sum256([]byte(keyAuthorization))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Certificate 签发结果，均为PEM
type Certificate struct {
	Domain            string
	Certificate       []byte
	IssuerCertificate []byte
	PrivateKey        []byte
	CertURL           string
}

// FullChain 证书加中间证书
func (c *Certificate) FullChain() []byte {
	out := make([]byte, 0, len(c.Certificate)+len(c.IssuerCertificate)+1)
	out = append(out, c.Certificate...)
	if len(c.IssuerCertificate) > 0 {
		if len(out) > 0 && out[len(out)-1] != '\n' {
			out = append(out, '\n')
		}
		out = append(out, c.IssuerCertificate...)
	}
	return out
}
