package aliyun

import (
	"context"
	"fmt"
	"strings"

	alidns "github.com/alibabacloud-go/alidns-20150109/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/domain"
	"acme-manager/internal/provider"
)

const (
	// Type 提供商类型
	Type = "aliyun"

	recordTypeTXT = "TXT"
	pageSize      = 100
)

// dnsAPI 用到的阿里云DNS接口，*alidns.Client 实现了它
type dnsAPI interface {
	DescribeDomains(request *alidns.DescribeDomainsRequest) (*alidns.DescribeDomainsResponse, error)
	DescribeDomainRecords(request *alidns.DescribeDomainRecordsRequest) (*alidns.DescribeDomainRecordsResponse, error)
	AddDomainRecord(request *alidns.AddDomainRecordRequest) (*alidns.AddDomainRecordResponse, error)
	DeleteDomainRecord(request *alidns.DeleteDomainRecordRequest) (*alidns.DeleteDomainRecordResponse, error)
}

// DNSProvider 阿里云DNS提供商
type DNSProvider struct {
	client dnsAPI
}

// NewDNSProvider 创建阿里云DNS提供商
// 凭证: access_key_id, access_key_secret, region(可选)
func NewDNSProvider(settings provider.Settings) (provider.DNSProvider, error) {
	if err := settings.Require("access_key_id", "access_key_secret"); err != nil {
		return nil, err
	}

	endpoint := "alidns.cn-hangzhou.aliyuncs.com"
	if region := settings.Credential("region"); region != "" {
		endpoint = fmt.Sprintf("alidns.%s.aliyuncs.com", region)
	}

	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(settings.Credential("access_key_id")),
		AccessKeySecret: tea.String(settings.Credential("access_key_secret")),
		Endpoint:        tea.String(endpoint),
	}

	client, err := alidns.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云DNS客户端失败: %w", err)
	}

	return &DNSProvider{client: client}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return Type
}

// GetZones 分页获取账号下的域名
// 阿里云解析的域名都是主Zone
func (p *DNSProvider) GetZones(ctx context.Context) ([]provider.Zone, error) {
	var zones []provider.Zone

	for page := int64(1); ; page++ {
		response, err := p.client.DescribeDomains(&alidns.DescribeDomainsRequest{
			PageNumber: tea.Int64(page),
			PageSize:   tea.Int64(pageSize),
		})
		if err != nil {
			return nil, provider.NewProviderError(Type, "DescribeDomains", err)
		}
		if response.Body == nil || response.Body.Domains == nil {
			break
		}

		for _, d := range response.Body.Domains.Domain {
			zones = append(zones, provider.Zone{
				ID:                tea.StringValue(d.DomainId),
				Name:              domain.Normalize(tea.StringValue(d.DomainName)),
				AuthoritativeType: provider.ZoneTypePrimary,
				Status:            provider.ZoneStatusActive,
			})
		}

		if len(response.Body.Domains.Domain) < pageSize ||
			int64(len(zones)) >= tea.Int64Value(response.Body.TotalCount) {
			break
		}
	}

	return zones, nil
}

// CreateTXTRecord 添加TXT记录
// 相同RR和值的记录已存在时直接复用
func (p *DNSProvider) CreateTXTRecord(ctx context.Context, fqdn, value string) (provider.ChangeID, error) {
	zones, err := p.GetZones(ctx)
	if err != nil {
		return provider.ChangeID{}, err
	}
	zone, err := provider.BestZone(fqdn, zones)
	if err != nil {
		return provider.ChangeID{}, err
	}

	rr := domain.ExtractSubDomain(fqdn, zone.Name)
	change := provider.ChangeID{Zone: zone.Name, FQDN: fqdn, Value: value}

	log.Infof("[阿里云DNS] 添加记录: %s.%s -> %s", rr, zone.Name, value)

	existing, err := p.findRecord(zone.Name, rr, value)
	if err != nil {
		log.Warnf("[阿里云DNS] 检查现有记录失败: %v", err)
	}
	if existing != nil {
		log.Infof("[阿里云DNS] 记录已存在: ID=%s", existing.RecordID)
		change.RecordID = existing.RecordID
		return change, nil
	}

	response, err := p.client.AddDomainRecord(&alidns.AddDomainRecordRequest{
		DomainName: tea.String(zone.Name),
		RR:         tea.String(rr),
		Type:       tea.String(recordTypeTXT),
		Value:      tea.String(value),
	})
	if err != nil {
		if provider.IsConflict(err) {
			log.Warnf("[阿里云DNS] 记录已存在: %s: %v", fqdn, err)
			return change, nil
		}
		return provider.ChangeID{}, provider.NewProviderError(Type, "AddDomainRecord", err)
	}

	if response.Body != nil {
		change.RecordID = tea.StringValue(response.Body.RecordId)
	}
	log.Infof("[阿里云DNS] 记录已添加: ID=%s", change.RecordID)
	return change, nil
}

// DeleteTXTRecord 删除TXT记录
// 没有记录ID时按RR和值查找
func (p *DNSProvider) DeleteTXTRecord(ctx context.Context, change provider.ChangeID) (provider.DeleteResult, error) {
	recordID := change.RecordID
	if recordID == "" {
		if change.Zone == "" || change.FQDN == "" {
			return provider.NotFound, nil
		}
		rr := domain.ExtractSubDomain(change.FQDN, change.Zone)
		record, err := p.findRecord(change.Zone, rr, change.Value)
		if err != nil {
			return provider.NotFound, provider.NewProviderError(Type, "DescribeDomainRecords", err)
		}
		if record == nil {
			return provider.NotFound, nil
		}
		recordID = record.RecordID
	}

	log.Infof("[阿里云DNS] 删除记录: ID=%s", recordID)

	_, err := p.client.DeleteDomainRecord(&alidns.DeleteDomainRecordRequest{
		RecordId: tea.String(recordID),
	})
	if err != nil {
		if isRecordNotFound(err) {
			return provider.NotFound, nil
		}
		return provider.NotFound, provider.NewProviderError(Type, "DeleteDomainRecord", err)
	}

	log.Infof("[阿里云DNS] 记录已删除")
	return provider.Deleted, nil
}

// findRecord 查找RR和值都匹配的TXT记录
func (p *DNSProvider) findRecord(zone, rr, value string) (*provider.DNSRecord, error) {
	response, err := p.client.DescribeDomainRecords(&alidns.DescribeDomainRecordsRequest{
		DomainName: tea.String(zone),
		RRKeyWord:  tea.String(rr),
		Type:       tea.String(recordTypeTXT),
	})
	if err != nil {
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	if response.Body != nil && response.Body.DomainRecords != nil {
		for _, record := range response.Body.DomainRecords.Record {
			if tea.StringValue(record.RR) == rr &&
				tea.StringValue(record.Type) == recordTypeTXT &&
				tea.StringValue(record.Value) == value {
				return &provider.DNSRecord{
					RecordID: tea.StringValue(record.RecordId),
					Domain:   zone,
					RR:       rr,
					Type:     recordTypeTXT,
					Value:    value,
					TTL:      int(tea.Int64Value(record.TTL)),
				}, nil
			}
		}
	}

	return nil, nil
}

func isRecordNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "domainrecordnotbelongtouser") || strings.Contains(msg, "notfound")
}
