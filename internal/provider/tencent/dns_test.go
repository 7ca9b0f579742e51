package tencent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"

	"acme-manager/internal/provider"
)

type fakeRecord struct {
	id             uint64
	zone, sub, val string
}

type fakeDNS struct {
	domains   map[string]string // 域名 -> 状态
	records   []*fakeRecord
	nextID    uint64
	createErr error
	deleted   []uint64
}

func (f *fakeDNS) DescribeDomainList(*dnspod.DescribeDomainListRequest) (*dnspod.DescribeDomainListResponse, error) {
	params := &dnspod.DescribeDomainListResponseParams{}
	var id uint64
	for name, status := range f.domains {
		id++
		params.DomainList = append(params.DomainList, &dnspod.DomainListItem{
			DomainId: common.Uint64Ptr(id),
			Name:     common.StringPtr(name),
			Status:   common.StringPtr(status),
		})
	}
	return &dnspod.DescribeDomainListResponse{Response: params}, nil
}

func (f *fakeDNS) DescribeRecordList(req *dnspod.DescribeRecordListRequest) (*dnspod.DescribeRecordListResponse, error) {
	params := &dnspod.DescribeRecordListResponseParams{}
	for _, r := range f.records {
		if r.zone == *req.Domain && r.sub == *req.Subdomain {
			params.RecordList = append(params.RecordList, &dnspod.RecordListItem{
				RecordId: common.Uint64Ptr(r.id),
				Name:     common.StringPtr(r.sub),
				Type:     common.StringPtr(recordTypeTXT),
				Value:    common.StringPtr(r.val),
			})
		}
	}
	if len(params.RecordList) == 0 {
		return nil, errors.New("[TencentCloudSDKError] Code=ResourceNotFound.NoDataOfRecord, Message=记录列表为空。")
	}
	return &dnspod.DescribeRecordListResponse{Response: params}, nil
}

func (f *fakeDNS) CreateRecord(req *dnspod.CreateRecordRequest) (*dnspod.CreateRecordResponse, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	f.records = append(f.records, &fakeRecord{id: f.nextID, zone: *req.Domain, sub: *req.SubDomain, val: *req.Value})
	return &dnspod.CreateRecordResponse{Response: &dnspod.CreateRecordResponseParams{RecordId: common.Uint64Ptr(f.nextID)}}, nil
}

func (f *fakeDNS) DeleteRecord(req *dnspod.DeleteRecordRequest) (*dnspod.DeleteRecordResponse, error) {
	for i, r := range f.records {
		if r.id == *req.RecordId {
			f.records = append(f.records[:i], f.records[i+1:]...)
			f.deleted = append(f.deleted, r.id)
			return &dnspod.DeleteRecordResponse{}, nil
		}
	}
	return nil, errors.New("[TencentCloudSDKError] Code=InvalidParameter.RecordIdInvalid, Message=RecordNotExist")
}

func TestGetZones(t *testing.T) {
	p := &DNSProvider{client: &fakeDNS{domains: map[string]string{"example.com": "ENABLE", "paused.com": "PAUSE"}}}

	zones, err := p.GetZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 2)

	byName := map[string]provider.Zone{}
	for _, z := range zones {
		byName[z.Name] = z
	}
	assert.True(t, byName["example.com"].Eligible())
	assert.False(t, byName["paused.com"].Eligible())
}

func TestCreateAndDeleteTXTRecord(t *testing.T) {
	fake := &fakeDNS{domains: map[string]string{"example.com": "ENABLE", "b.example.com": "ENABLE"}}
	p := &DNSProvider{client: fake}
	ctx := context.Background()

	change, err := p.CreateTXTRecord(ctx, "_acme-challenge.a.b.example.com", "token")
	require.NoError(t, err)
	assert.Equal(t, "b.example.com", change.Zone)
	assert.Equal(t, "1", change.RecordID)
	require.Len(t, fake.records, 1)
	assert.Equal(t, "_acme-challenge.a", fake.records[0].sub)

	// 相同的值不重复创建
	again, err := p.CreateTXTRecord(ctx, "_acme-challenge.a.b.example.com", "token")
	require.NoError(t, err)
	assert.Equal(t, change.RecordID, again.RecordID)
	assert.Len(t, fake.records, 1)

	res, err := p.DeleteTXTRecord(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, provider.Deleted, res)

	res, err = p.DeleteTXTRecord(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, provider.NotFound, res)
}

func TestDeleteWithoutRecordID(t *testing.T) {
	fake := &fakeDNS{
		domains: map[string]string{"example.com": "ENABLE"},
		records: []*fakeRecord{
			{id: 7, zone: "example.com", sub: "_acme-challenge", val: "other"},
			{id: 8, zone: "example.com", sub: "_acme-challenge", val: "token"},
		},
	}
	p := &DNSProvider{client: fake}

	res, err := p.DeleteTXTRecord(context.Background(), provider.ChangeID{Zone: "example.com", FQDN: "_acme-challenge.example.com", Value: "token"})
	require.NoError(t, err)
	assert.Equal(t, provider.Deleted, res)
	assert.Equal(t, []uint64{8}, fake.deleted)
}

func TestCreateTXTRecordErrors(t *testing.T) {
	fake := &fakeDNS{domains: map[string]string{"example.com": "ENABLE"}, createErr: errors.New("AuthFailure")}
	p := &DNSProvider{client: fake}

	_, err := p.CreateTXTRecord(context.Background(), "_acme-challenge.example.com", "token")
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)

	_, err = p.CreateTXTRecord(context.Background(), "_acme-challenge.example.org", "token")
	assert.ErrorIs(t, err, provider.ErrZoneNotFound)

	fake.createErr = errors.New("[TencentCloudSDKError] Code=InvalidParameter.DomainRecordExist, Message=记录已经存在")
	change, err := p.CreateTXTRecord(context.Background(), "_acme-challenge.example.com", "token")
	require.NoError(t, err)
	assert.Equal(t, "example.com", change.Zone)
}
