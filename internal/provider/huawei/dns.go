package huawei

import (
	"context"
	"fmt"
	"strings"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	dns "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2"
	dnsModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/model"
	dnsRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/region"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/provider"
	"acme-manager/internal/provider/rrset"
)

const (
	// Type 提供商类型
	Type = "huawei"

	defaultRegion = "cn-north-4"
	recordTypeTXT = "TXT"
)

// dnsAPI 用到的华为云DNS接口，*dns.DnsClient 实现了它
type dnsAPI interface {
	ListPublicZones(request *dnsModel.ListPublicZonesRequest) (*dnsModel.ListPublicZonesResponse, error)
	ListRecordSetsByZone(request *dnsModel.ListRecordSetsByZoneRequest) (*dnsModel.ListRecordSetsByZoneResponse, error)
	CreateRecordSet(request *dnsModel.CreateRecordSetRequest) (*dnsModel.CreateRecordSetResponse, error)
	DeleteRecordSet(request *dnsModel.DeleteRecordSetRequest) (*dnsModel.DeleteRecordSetResponse, error)
}

// DNSProvider 华为云DNS提供商
// 华为云以记录集保存同名TXT记录，增删通过 rrset 完成
type DNSProvider struct {
	name   string
	client dnsAPI
	locks  rrset.Locks
}

// NewDNSProvider 创建华为云DNS提供商
// 凭证: access_key, secret_key, region(可选)
func NewDNSProvider(settings provider.Settings) (provider.DNSProvider, error) {
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

	regionObj, err := dnsRegion.SafeValueOf(region)
	if err != nil {
		return nil, fmt.Errorf("无效的区域: %s", region)
	}

	client := dns.NewDnsClient(
		dns.DnsClientBuilder().
			WithRegion(regionObj).
			WithCredential(auth).
			Build())

	return newDNSProvider(settings.Name, client), nil
}

func newDNSProvider(name string, client dnsAPI) *DNSProvider {
	return &DNSProvider{name: name, client: client}
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return Type
}

// GetZones 获取公网Zone列表
func (p *DNSProvider) GetZones(ctx context.Context) ([]provider.Zone, error) {
	response, err := p.client.ListPublicZones(&dnsModel.ListPublicZonesRequest{})
	if err != nil {
		return nil, provider.NewProviderError(Type, "ListPublicZones", err)
	}

	var zones []provider.Zone
	if response.Zones != nil {
		for _, zone := range *response.Zones {
			if zone.Name == nil || zone.Id == nil {
				continue
			}
			status := provider.ZoneStatusInactive
			if zone.Status != nil && strings.EqualFold(*zone.Status, "ACTIVE") {
				status = provider.ZoneStatusActive
			}
			zones = append(zones, provider.Zone{
				ID:                *zone.Id,
				Name:              strings.TrimSuffix(*zone.Name, "."),
				AuthoritativeType: provider.ZoneTypePrimary,
				Status:            status,
			})
		}
	}

	return zones, nil
}

// CreateTXTRecord 添加TXT记录，同名记录集已存在时合并
func (p *DNSProvider) CreateTXTRecord(ctx context.Context, fqdn, value string) (provider.ChangeID, error) {
	zone, err := p.zoneFor(ctx, fqdn)
	if err != nil {
		return provider.ChangeID{}, err
	}

	key := rrset.Key{Zone: zone.ID, Name: recordName(fqdn)}
	change := provider.ChangeID{Zone: zone.Name, FQDN: fqdn, Value: value}

	log.Infof("[华为云DNS] 添加记录: %s -> %s (Zone: %s)", fqdn, value, zone.Name)

	unlock := p.locks.Lock(key)
	defer unlock()

	// 冲突由 rrset 重新读取合并，这里不能当作成功，否则会丢失同名的另一个值
	if err := rrset.Add(ctx, &recordSetStore{client: p.client}, key, value); err != nil {
		return provider.ChangeID{}, provider.NewProviderError(Type, "CreateRecordSet", err)
	}

	log.Infof("[华为云DNS] 记录已添加")
	return change, nil
}

// DeleteTXTRecord 从记录集中删除一个值
func (p *DNSProvider) DeleteTXTRecord(ctx context.Context, change provider.ChangeID) (provider.DeleteResult, error) {
	if change.FQDN == "" {
		return provider.NotFound, nil
	}

	zone, err := p.zoneFor(ctx, change.FQDN)
	if err != nil {
		return provider.NotFound, err
	}

	key := rrset.Key{Zone: zone.ID, Name: recordName(change.FQDN)}
	unlock := p.locks.Lock(key)
	defer unlock()

	result, err := rrset.Delete(ctx, &recordSetStore{client: p.client}, key, change.Value)
	if err != nil {
		return result, provider.NewProviderError(Type, "DeleteRecordSet", err)
	}

	log.Infof("[华为云DNS] 删除记录 %s: %s", change.FQDN, result)
	return result, nil
}

// PurgeTXTRecords 删除验证主机名下的整个TXT记录集
func (p *DNSProvider) PurgeTXTRecords(ctx context.Context, fqdn string) (provider.DeleteResult, error) {
	if err := provider.CheckChallengeHost(fqdn); err != nil {
		return provider.NotFound, err
	}

	zone, err := p.zoneFor(ctx, fqdn)
	if err != nil {
		return provider.NotFound, err
	}

	key := rrset.Key{Zone: zone.ID, Name: recordName(fqdn)}
	unlock := p.locks.Lock(key)
	defer unlock()

	result, err := rrset.Purge(ctx, &recordSetStore{client: p.client}, key)
	if err != nil {
		return result, provider.NewProviderError(Type, "DeleteRecordSet", err)
	}

	log.Infof("[华为云DNS] 清空记录集 %s: %s", fqdn, result)
	return result, nil
}

func (p *DNSProvider) zoneFor(ctx context.Context, fqdn string) (provider.Zone, error) {
	zones, err := p.GetZones(ctx)
	if err != nil {
		return provider.Zone{}, err
	}
	return provider.BestZone(fqdn, zones)
}

// recordName 华为云记录名以点结尾
func recordName(fqdn string) string {
	return strings.TrimSuffix(strings.ToLower(fqdn), ".") + "."
}

// recordSetStore 把华为云记录集接口适配为 rrset.Store
type recordSetStore struct {
	client dnsAPI
}

func (s *recordSetStore) find(key rrset.Key) (*dnsModel.ListRecordSets, error) {
	name := key.Name
	recordType := recordTypeTXT

	response, err := s.client.ListRecordSetsByZone(&dnsModel.ListRecordSetsByZoneRequest{
		ZoneId: key.Zone,
		Name:   &name,
		Type:   &recordType,
	})
	if err != nil {
		return nil, err
	}

	if response.Recordsets != nil {
		for _, recordSet := range *response.Recordsets {
			if recordSet.Name != nil && strings.EqualFold(*recordSet.Name, key.Name) &&
				recordSet.Type != nil && *recordSet.Type == recordTypeTXT {
				rs := recordSet
				return &rs, nil
			}
		}
	}
	return nil, nil
}

func (s *recordSetStore) Get(ctx context.Context, key rrset.Key) ([]string, bool, error) {
	recordSet, err := s.find(key)
	if err != nil {
		return nil, false, err
	}
	if recordSet == nil {
		return nil, false, nil
	}

	var values []string
	if recordSet.Records != nil {
		values = append(values, (*recordSet.Records)...)
	}
	return values, true, nil
}

func (s *recordSetStore) Create(ctx context.Context, key rrset.Key, values []string) error {
	records := make([]string, 0, len(values))
	for _, v := range values {
		records = append(records, quote(v))
	}

	_, err := s.client.CreateRecordSet(&dnsModel.CreateRecordSetRequest{
		ZoneId: key.Zone,
		Body: &dnsModel.CreateRecordSetRequestBody{
			Name:    key.Name,
			Type:    recordTypeTXT,
			Records: records,
		},
	})
	return err
}

func (s *recordSetStore) Delete(ctx context.Context, key rrset.Key) error {
	recordSet, err := s.find(key)
	if err != nil {
		return err
	}
	if recordSet == nil || recordSet.Id == nil {
		return nil
	}

	_, err = s.client.DeleteRecordSet(&dnsModel.DeleteRecordSetRequest{
		ZoneId:      key.Zone,
		RecordsetId: *recordSet.Id,
	})
	return err
}

// quote 华为云要求TXT记录值带双引号
func quote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v
	}
	return `"` + v + `"`
}
