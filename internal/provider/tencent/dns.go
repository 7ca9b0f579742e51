package tencent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"

	"acme-manager/internal/domain"
	"acme-manager/internal/provider"
)

const (
	// Type 提供商类型
	Type = "tencent"

	recordTypeTXT = "TXT"
	defaultLine   = "默认"
	pageSize      = 100
)

// dnsAPI 用到的DNSPod接口，*dnspod.Client 实现了它
type dnsAPI interface {
	DescribeDomainList(request *dnspod.DescribeDomainListRequest) (*dnspod.DescribeDomainListResponse, error)
	DescribeRecordList(request *dnspod.DescribeRecordListRequest) (*dnspod.DescribeRecordListResponse, error)
	CreateRecord(request *dnspod.CreateRecordRequest) (*dnspod.CreateRecordResponse, error)
	DeleteRecord(request *dnspod.DeleteRecordRequest) (*dnspod.DeleteRecordResponse, error)
}

// DNSProvider 腾讯云DNS提供商 (DNSPod)
type DNSProvider struct {
	client dnsAPI
}

// NewDNSProvider 创建腾讯云DNS提供商
// 凭证: secret_id, secret_key
func NewDNSProvider(settings provider.Settings) (provider.DNSProvider, error) {
	if err := settings.Require("secret_id", "secret_key"); err != nil {
		return nil, err
	}

	credential := common.NewCredential(settings.Credential("secret_id"), settings.Credential("secret_key"))
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "dnspod.tencentcloudapi.com"

	client, err := dnspod.NewClient(credential, "", cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云DNSPod客户端失败: %w", err)
	}

	return &DNSProvider{client: client}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return Type
}

// GetZones 分页获取域名列表，暂停解析的域名标记为未激活
func (p *DNSProvider) GetZones(ctx context.Context) ([]provider.Zone, error) {
	var zones []provider.Zone

	for offset := int64(0); ; offset += pageSize {
		request := dnspod.NewDescribeDomainListRequest()
		request.Offset = common.Int64Ptr(offset)
		request.Limit = common.Int64Ptr(pageSize)

		response, err := p.client.DescribeDomainList(request)
		if err != nil {
			return nil, provider.NewProviderError(Type, "DescribeDomainList", err)
		}
		if response.Response == nil {
			break
		}

		for _, d := range response.Response.DomainList {
			if d.Name == nil {
				continue
			}
			status := provider.ZoneStatusInactive
			if d.Status != nil && *d.Status == "ENABLE" {
				status = provider.ZoneStatusActive
			}
			var id string
			if d.DomainId != nil {
				id = strconv.FormatUint(*d.DomainId, 10)
			}
			zones = append(zones, provider.Zone{
				ID:                id,
				Name:              domain.Normalize(*d.Name),
				AuthoritativeType: provider.ZoneTypePrimary,
				Status:            status,
			})
		}

		if len(response.Response.DomainList) < pageSize {
			break
		}
	}

	return zones, nil
}

// CreateTXTRecord 添加TXT记录
func (p *DNSProvider) CreateTXTRecord(ctx context.Context, fqdn, value string) (provider.ChangeID, error) {
	zones, err := p.GetZones(ctx)
	if err != nil {
		return provider.ChangeID{}, err
	}
	zone, err := provider.BestZone(fqdn, zones)
	if err != nil {
		return provider.ChangeID{}, err
	}

	subDomain := domain.ExtractSubDomain(fqdn, zone.Name)
	change := provider.ChangeID{Zone: zone.Name, FQDN: fqdn, Value: value}

	log.Infof("[腾讯云DNS] 添加记录: %s.%s -> %s", subDomain, zone.Name, value)

	existing, err := p.findRecord(zone.Name, subDomain, value)
	if err != nil {
		log.Warnf("[腾讯云DNS] 检查现有记录失败: %v", err)
	}
	if existing != nil {
		log.Infof("[腾讯云DNS] 记录已存在: ID=%s", existing.RecordID)
		change.RecordID = existing.RecordID
		return change, nil
	}

	request := dnspod.NewCreateRecordRequest()
	request.Domain = common.StringPtr(zone.Name)
	request.SubDomain = common.StringPtr(subDomain)
	request.RecordType = common.StringPtr(recordTypeTXT)
	request.RecordLine = common.StringPtr(defaultLine)
	request.Value = common.StringPtr(value)

	response, err := p.client.CreateRecord(request)
	if err != nil {
		if provider.IsConflict(err) {
			log.Warnf("[腾讯云DNS] 记录已存在: %s: %v", fqdn, err)
			return change, nil
		}
		return provider.ChangeID{}, provider.NewProviderError(Type, "CreateRecord", err)
	}

	if response.Response != nil && response.Response.RecordId != nil {
		change.RecordID = strconv.FormatUint(*response.Response.RecordId, 10)
	}
	log.Infof("[腾讯云DNS] 记录已添加: ID=%s", change.RecordID)
	return change, nil
}

// DeleteTXTRecord 删除TXT记录
func (p *DNSProvider) DeleteTXTRecord(ctx context.Context, change provider.ChangeID) (provider.DeleteResult, error) {
	if change.Zone == "" {
		return provider.NotFound, nil
	}

	recordID := change.RecordID
	if recordID == "" {
		subDomain := domain.ExtractSubDomain(change.FQDN, change.Zone)
		record, err := p.findRecord(change.Zone, subDomain, change.Value)
		if err != nil {
			return provider.NotFound, provider.NewProviderError(Type, "DescribeRecordList", err)
		}
		if record == nil {
			return provider.NotFound, nil
		}
		recordID = record.RecordID
	}

	id, err := strconv.ParseUint(recordID, 10, 64)
	if err != nil {
		return provider.NotFound, fmt.Errorf("无效的记录ID %q: %w", recordID, err)
	}

	log.Infof("[腾讯云DNS] 删除记录: ID=%s", recordID)

	request := dnspod.NewDeleteRecordRequest()
	request.Domain = common.StringPtr(change.Zone)
	request.RecordId = common.Uint64Ptr(id)

	if _, err := p.client.DeleteRecord(request); err != nil {
		if isNoRecord(err) {
			return provider.NotFound, nil
		}
		return provider.NotFound, provider.NewProviderError(Type, "DeleteRecord", err)
	}

	log.Infof("[腾讯云DNS] 记录已删除")
	return provider.Deleted, nil
}

// findRecord 查找子域名和值都匹配的TXT记录
func (p *DNSProvider) findRecord(zone, subDomain, value string) (*provider.DNSRecord, error) {
	request := dnspod.NewDescribeRecordListRequest()
	request.Domain = common.StringPtr(zone)
	request.Subdomain = common.StringPtr(subDomain)
	request.RecordType = common.StringPtr(recordTypeTXT)

	response, err := p.client.DescribeRecordList(request)
	if err != nil {
		// 没有记录时腾讯云返回错误
		if isNoRecord(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询DNS记录失败: %w", err)
	}

	if response.Response != nil {
		for _, record := range response.Response.RecordList {
			if record.Name != nil && *record.Name == subDomain &&
				record.Type != nil && *record.Type == recordTypeTXT &&
				record.Value != nil && *record.Value == value && record.RecordId != nil {
				return &provider.DNSRecord{
					RecordID: strconv.FormatUint(*record.RecordId, 10),
					Domain:   zone,
					RR:       subDomain,
					Type:     recordTypeTXT,
					Value:    value,
				}, nil
			}
		}
	}

	return nil, nil
}

func isNoRecord(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoRecord") || strings.Contains(msg, "记录列表为空") ||
		strings.Contains(msg, "RecordNotExist")
}
