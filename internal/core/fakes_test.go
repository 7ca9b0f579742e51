package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"acme-manager/internal/acme"
	"acme-manager/internal/propagation"
	"acme-manager/internal/provider"
)

// fakeClient 内存中的ACME服务
type fakeClient struct {
	mu        sync.Mutex
	orderErr  error
	answerErr error
	answered  int
	deadline  time.Time
	finalized bool
}

func (c *fakeClient) NewOrder(_ context.Context, domains []string) (*acme.Order, error) {
	if c.orderErr != nil {
		return nil, c.orderErr
	}
	order := &acme.Order{URL: "https://ca/order/1", FinalizeURL: "https://ca/finalize/1"}
	for _, d := range domains {
		id, wildcard := strings.CutPrefix(d, "*.")
		order.Authorizations = append(order.Authorizations, acme.Authorization{
			URL:        "https://ca/authz/" + d,
			Identifier: id,
			Wildcard:   wildcard,
			Challenges: []acme.Challenge{{Type: acme.ChallengeTypeDNS01, URL: "https://ca/chall/" + d, Token: "tok-" + d}},
		})
	}
	return order, nil
}

func (c *fakeClient) KeyAuthorization(token string) (string, error) {
	return token + ".thumb", nil
}

func (c *fakeClient) AnswerChallenge(context.Context, acme.Challenge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.answered++
	return nil
}

func (c *fakeClient) WaitAuthorization(context.Context, acme.Authorization) error { return nil }

func (c *fakeClient) FinalizeOrder(_ context.Context, _ *acme.Order, domains []string, deadline time.Time) (*acme.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = deadline
	c.finalized = true
	return &acme.Certificate{Certificate: []byte("cert"), PrivateKey: []byte("key")}, nil
}

// memoryDNS 内存中的DNS提供商
type memoryDNS struct {
	mu        sync.Mutex
	records   map[string][]string
	createErr map[string]error
	deleteErr error
	deleted   int
}

func newMemoryDNS() *memoryDNS {
	return &memoryDNS{records: make(map[string][]string), createErr: make(map[string]error)}
}

func (d *memoryDNS) Name() string { return "memory" }

func (d *memoryDNS) GetZones(context.Context) ([]provider.Zone, error) { return nil, nil }

func (d *memoryDNS) CreateTXTRecord(_ context.Context, fqdn, value string) (provider.ChangeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.createErr[fqdn]; err != nil {
		return provider.ChangeID{}, provider.NewProviderError("memory", "create", err)
	}
	d.records[fqdn] = append(d.records[fqdn], value)
	return provider.ChangeID{FQDN: fqdn, Value: value}, nil
}

func (d *memoryDNS) DeleteTXTRecord(_ context.Context, change provider.ChangeID) (provider.DeleteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleteErr != nil {
		return provider.NotFound, d.deleteErr
	}
	values := d.records[change.FQDN]
	for i, v := range values {
		if v != change.Value {
			continue
		}
		d.records[change.FQDN] = append(values[:i:i], values[i+1:]...)
		if len(d.records[change.FQDN]) == 0 {
			delete(d.records, change.FQDN)
		}
		d.deleted++
		return provider.Deleted, nil
	}
	return provider.NotFound, nil
}

func (d *memoryDNS) LookupTXT(_ context.Context, _, name string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if values, ok := d.records[name]; ok {
		return append([]string(nil), values...), nil
	}
	return nil, errors.New("NXDOMAIN")
}

// stubWaiter 立即返回
type stubWaiter struct{ err error }

func (w stubWaiter) Wait(context.Context, string, string) (propagation.Result, error) {
	if w.err != nil {
		return propagation.Result{}, w.err
	}
	return propagation.Result{Propagated: true, Phase: propagation.PhasePublic}, nil
}

func newTestIssuer(client acme.Client, dns *memoryDNS, waiter stubWaiter) *Issuer {
	accounts := []*provider.Account{{Name: "memory", Type: "memory", Domains: []string{"example.com"}, DNS: dns}}
	return NewIssuer(client, IssuerOptions{
		Accounts:    accounts,
		Waiter:      waiter,
		Lookup:      dns,
		AnswerDelay: -1,
	})
}
