package rfc2136

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme-manager/internal/provider"
)

// fakeServer 记录收到的更新并按记录状态回答查询
type fakeServer struct {
	records map[string][]string
	updates []*dns.Msg
	rcode   int
}

func (f *fakeServer) ExchangeContext(_ context.Context, m *dns.Msg, _ string) (*dns.Msg, time.Duration, error) {
	r := new(dns.Msg)
	r.SetReply(m)

	if m.Opcode == dns.OpcodeUpdate {
		f.updates = append(f.updates, m)
		r.Rcode = f.rcode
		if f.rcode != dns.RcodeSuccess {
			return r, 0, nil
		}
		for _, rr := range m.Ns {
			if rrset, ok := rr.(*dns.ANY); ok {
				delete(f.records, rrset.Hdr.Name)
				continue
			}
			txt := rr.(*dns.TXT)
			name := txt.Hdr.Name
			if txt.Hdr.Class == dns.ClassNONE {
				f.records[name] = nil
				continue
			}
			f.records[name] = append(f.records[name], txt.Txt...)
		}
		return r, 0, nil
	}

	q := m.Question[0]
	values, ok := f.records[q.Name]
	if !ok || len(values) == 0 {
		r.Rcode = dns.RcodeNameError
		return r, 0, nil
	}
	for _, v := range values {
		r.Answer = append(r.Answer, txtRecord(q.Name, v, 60))
	}
	return r, 0, nil
}

func newTestProvider(t *testing.T, server *fakeServer) *DNSProvider {
	t.Helper()
	p, err := NewDNSProvider(provider.Settings{
		Name:        "bind",
		Credentials: map[string]string{"nameserver": "127.0.0.1"},
		Domains:     []string{"example.com"},
	})
	require.NoError(t, err)

	dp := p.(*DNSProvider)
	assert.Equal(t, "127.0.0.1:53", dp.nameserver)
	dp.client = server
	return dp
}

func TestCreateAndDelete(t *testing.T) {
	ctx := context.Background()
	server := &fakeServer{records: map[string][]string{}, rcode: dns.RcodeSuccess}
	p := newTestProvider(t, server)

	change, err := p.CreateTXTRecord(ctx, "_acme-challenge.www.example.com", "token")
	require.NoError(t, err)
	assert.Equal(t, "example.com", change.Zone)
	require.Len(t, server.updates, 1)
	assert.Equal(t, "example.com.", server.updates[0].Question[0].Name)

	res, err := p.DeleteTXTRecord(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, provider.Deleted, res)

	res, err = p.DeleteTXTRecord(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, provider.NotFound, res)
	assert.Len(t, server.updates, 2)
}

func TestCreateOutsideZone(t *testing.T) {
	server := &fakeServer{records: map[string][]string{}}
	p := newTestProvider(t, server)

	_, err := p.CreateTXTRecord(context.Background(), "_acme-challenge.example.org", "token")
	assert.ErrorIs(t, err, provider.ErrZoneNotFound)
	assert.Empty(t, server.updates)
}

func TestUpdateRefused(t *testing.T) {
	server := &fakeServer{records: map[string][]string{}, rcode: dns.RcodeRefused}
	p := newTestProvider(t, server)

	_, err := p.CreateTXTRecord(context.Background(), "_acme-challenge.example.com", "token")
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Type, perr.Provider)
}

func TestTSIGRequiresSecret(t *testing.T) {
	_, err := NewDNSProvider(provider.Settings{
		Name:        "bind",
		Credentials: map[string]string{"nameserver": "ns1:5353", "tsig_key": "acme"},
		Domains:     []string{"example.com"},
	})
	var missing *provider.MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"tsig_secret"}, missing.Keys)
}

func TestPurgeTXTRecords(t *testing.T) {
	ctx := context.Background()
	server := &fakeServer{
		records: map[string][]string{"_acme-challenge.example.com.": {"stale-a", "stale-b"}},
		rcode:   dns.RcodeSuccess,
	}
	p := newTestProvider(t, server)

	res, err := p.PurgeTXTRecords(ctx, "_acme-challenge.example.com")
	require.NoError(t, err)
	assert.Equal(t, provider.Deleted, res)
	require.Len(t, server.updates, 1)
	require.Len(t, server.updates[0].Ns, 1)
	assert.Equal(t, uint16(dns.ClassANY), server.updates[0].Ns[0].Header().Class)
	assert.Empty(t, server.records)

	res, err = p.PurgeTXTRecords(ctx, "_acme-challenge.example.com")
	require.NoError(t, err)
	assert.Equal(t, provider.NotFound, res)
	assert.Len(t, server.updates, 1)

	_, err = p.PurgeTXTRecords(ctx, "www.example.com")
	assert.ErrorIs(t, err, provider.ErrNotChallengeHost)
}
