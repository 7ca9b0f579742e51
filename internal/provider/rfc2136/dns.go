// Package rfc2136 通过DNS动态更新 (RFC 2136) 管理自建权威服务器上的TXT记录
package rfc2136

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/domain"
	"acme-manager/internal/provider"
)

const (
	// Type 提供商类型
	Type = "rfc2136"

	defaultTTL     = 120
	defaultTimeout = 10 * time.Second
	tsigFudge      = 300
)

// exchanger 发送DNS消息，*dns.Client 实现了它
type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// DNSProvider RFC 2136 动态更新提供商
// 没有列Zone的接口，Zone取自账号配置的域名
type DNSProvider struct {
	nameserver string
	tsigKey    string
	tsigAlgo   string
	zones      []provider.Zone
	client     exchanger
}

// NewDNSProvider 创建RFC 2136提供商
// 凭证: nameserver, tsig_key(可选), tsig_secret(可选), tsig_algorithm(可选)
func NewDNSProvider(settings provider.Settings) (provider.DNSProvider, error) {
	if err := settings.Require("nameserver"); err != nil {
		return nil, err
	}
	if len(settings.Domains) == 0 {
		return nil, fmt.Errorf("rfc2136 账号 %s 未配置域名", settings.Name)
	}

	nameserver := settings.Credential("nameserver")
	if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	client := &dns.Client{Timeout: defaultTimeout}

	p := &DNSProvider{
		nameserver: nameserver,
		tsigAlgo:   dns.HmacSHA256,
		client:     client,
	}

	if key := settings.Credential("tsig_key"); key != "" {
		secret := settings.Credential("tsig_secret")
		if secret == "" {
			return nil, &provider.MissingCredentialError{Provider: settings.Name, Keys: []string{"tsig_secret"}}
		}
		p.tsigKey = dns.Fqdn(strings.ToLower(key))
		if algo := settings.Credential("tsig_algorithm"); algo != "" {
			p.tsigAlgo = dns.Fqdn(strings.ToLower(algo))
		}
		client.TsigSecret = map[string]string{p.tsigKey: secret}
	}

	for _, d := range settings.Domains {
		p.zones = append(p.zones, provider.Zone{
			Name:              domain.Normalize(d),
			AuthoritativeType: provider.ZoneTypePrimary,
			Status:            provider.ZoneStatusActive,
		})
	}

	return p, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return Type
}

// GetZones 返回配置的Zone
func (p *DNSProvider) GetZones(ctx context.Context) ([]provider.Zone, error) {
	zones := make([]provider.Zone, len(p.zones))
	copy(zones, p.zones)
	return zones, nil
}

// CreateTXTRecord 发送插入TXT记录的动态更新
// 服务器对已存在的同值记录不做处理
func (p *DNSProvider) CreateTXTRecord(ctx context.Context, fqdn, value string) (provider.ChangeID, error) {
	zone, err := provider.BestZone(fqdn, p.zones)
	if err != nil {
		return provider.ChangeID{}, err
	}

	log.Infof("[RFC2136] 添加记录: %s -> %s (Zone: %s)", fqdn, value, zone.Name)

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(zone.Name))
	m.Insert([]dns.RR{txtRecord(fqdn, value, defaultTTL)})

	if err := p.send(ctx, m); err != nil {
		return provider.ChangeID{}, provider.NewProviderError(Type, "update", err)
	}

	log.Infof("[RFC2136] 记录已添加")
	return provider.ChangeID{Zone: zone.Name, FQDN: fqdn, Value: value}, nil
}

// DeleteTXTRecord 先查询记录是否存在，存在才发送删除
func (p *DNSProvider) DeleteTXTRecord(ctx context.Context, change provider.ChangeID) (provider.DeleteResult, error) {
	if change.Zone == "" || change.FQDN == "" {
		return provider.NotFound, nil
	}

	exists, err := p.hasValue(ctx, change.FQDN, change.Value)
	if err != nil {
		return provider.NotFound, provider.NewProviderError(Type, "query", err)
	}
	if !exists {
		return provider.NotFound, nil
	}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(change.Zone))
	m.Remove([]dns.RR{txtRecord(change.FQDN, change.Value, 0)})

	if err := p.send(ctx, m); err != nil {
		return provider.NotFound, provider.NewProviderError(Type, "update", err)
	}

	log.Infof("[RFC2136] 删除记录 %s", change.FQDN)
	return provider.Deleted, nil
}

// PurgeTXTRecords 删除验证主机名下的全部TXT记录
func (p *DNSProvider) PurgeTXTRecords(ctx context.Context, fqdn string) (provider.DeleteResult, error) {
	if err := provider.CheckChallengeHost(fqdn); err != nil {
		return provider.NotFound, err
	}

	zone, err := provider.BestZone(fqdn, p.zones)
	if err != nil {
		return provider.NotFound, err
	}

	values, err := p.values(ctx, fqdn)
	if err != nil {
		return provider.NotFound, provider.NewProviderError(Type, "query", err)
	}
	if len(values) == 0 {
		return provider.NotFound, nil
	}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(zone.Name))
	m.RemoveRRset([]dns.RR{txtRecord(fqdn, "", 0)})

	if err := p.send(ctx, m); err != nil {
		return provider.NotFound, provider.NewProviderError(Type, "update", err)
	}

	log.Infof("[RFC2136] 清空记录 %s (%d 条)", fqdn, len(values))
	return provider.Deleted, nil
}

func (p *DNSProvider) hasValue(ctx context.Context, fqdn, value string) (bool, error) {
	values, err := p.values(ctx, fqdn)
	if err != nil {
		return false, err
	}
	return slices.Contains(values, value), nil
}

// values 向权威服务器查询当前的TXT值
func (p *DNSProvider) values(ctx context.Context, fqdn string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	m.RecursionDesired = false

	r, _, err := p.client.ExchangeContext(ctx, m, p.nameserver)
	if err != nil {
		return nil, err
	}
	if r.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("查询返回 %s", dns.RcodeToString[r.Rcode])
	}

	var values []string
	for _, rr := range r.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values, nil
}

func (p *DNSProvider) send(ctx context.Context, m *dns.Msg) error {
	if p.tsigKey != "" {
		m.SetTsig(p.tsigKey, p.tsigAlgo, tsigFudge, time.Now().Unix())
	}

	r, _, err := p.client.ExchangeContext(ctx, m, p.nameserver)
	if err != nil {
		return err
	}
	if r.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("动态更新被拒绝: %s", dns.RcodeToString[r.Rcode])
	}
	return nil
}

func txtRecord(fqdn, value string, ttl uint32) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(fqdn),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Txt: []string{value},
	}
}
