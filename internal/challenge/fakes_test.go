package challenge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"acme-manager/internal/acme"
	"acme-manager/internal/propagation"
	"acme-manager/internal/provider"
)

// fakeACME 记录提交的验证和等待的授权
type fakeACME struct {
	mu        sync.Mutex
	answered  []string
	waited    []string
	answerErr map[string]error
	pending   map[string]bool // 这些授权一直 pending，等待到 ctx 结束
}

func (f *fakeACME) NewOrder(context.Context, []string) (*acme.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeACME) KeyAuthorization(token string) (string, error) {
	return token + ".thumbprint", nil
}

func (f *fakeACME) AnswerChallenge(_ context.Context, ch acme.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.answerErr[ch.URL]; err != nil {
		return err
	}
	f.answered = append(f.answered, ch.URL)
	return nil
}

func (f *fakeACME) WaitAuthorization(ctx context.Context, authz acme.Authorization) error {
	f.mu.Lock()
	f.waited = append(f.waited, authz.URL)
	pending := f.pending[authz.URL]
	f.mu.Unlock()

	if pending {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeACME) FinalizeOrder(context.Context, *acme.Order, []string, time.Time) (*acme.Certificate, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeACME) sortedAnswered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.answered...)
	sort.Strings(out)
	return out
}

// fakeDNS 内存中的DNS提供商，同时充当TXT查询
type fakeDNS struct {
	name string

	mu        sync.Mutex
	records   map[string][]string
	created   []string
	deleted   []string
	createErr map[string]error
	deleteErr map[string]error
	panicOn   string
}

func newFakeDNS(name string) *fakeDNS {
	return &fakeDNS{
		name:      name,
		records:   make(map[string][]string),
		createErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeDNS) Name() string { return f.name }

func (f *fakeDNS) GetZones(context.Context) ([]provider.Zone, error) { return nil, nil }

func (f *fakeDNS) CreateTXTRecord(_ context.Context, fqdn, value string) (provider.ChangeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[fqdn]; err != nil {
		return provider.ChangeID{}, provider.NewProviderError(f.name, "create", err)
	}
	f.records[fqdn] = append(f.records[fqdn], value)
	f.created = append(f.created, fqdn)
	return provider.ChangeID{Zone: "zone", FQDN: fqdn, Value: value}, nil
}

func (f *fakeDNS) DeleteTXTRecord(_ context.Context, change provider.ChangeID) (provider.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if change.FQDN == f.panicOn {
		panic("boom")
	}
	if err := f.deleteErr[change.FQDN]; err != nil {
		return provider.NotFound, provider.NewProviderError(f.name, "delete", err)
	}
	values := f.records[change.FQDN]
	for i, v := range values {
		if v == change.Value {
			f.records[change.FQDN] = append(values[:i], values[i+1:]...)
			if len(f.records[change.FQDN]) == 0 {
				delete(f.records, change.FQDN)
			}
			f.deleted = append(f.deleted, change.FQDN)
			return provider.Deleted, nil
		}
	}
	return provider.NotFound, nil
}

func (f *fakeDNS) LookupTXT(_ context.Context, _, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, ok := f.records[strings.TrimSuffix(name, ".")]
	if !ok {
		return nil, fmt.Errorf("%s: NXDOMAIN", name)
	}
	return append([]string(nil), values...), nil
}

// multiLookup 在多个提供商中查询
type multiLookup []*fakeDNS

func (m multiLookup) LookupTXT(ctx context.Context, server, name string) ([]string, error) {
	var out []string
	for _, d := range m {
		if v, err := d.LookupTXT(ctx, server, name); err == nil {
			out = append(out, v...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: NXDOMAIN", name)
	}
	return out, nil
}

// fakeWaiter 可以让指定主机名超时
type fakeWaiter struct {
	mu     sync.Mutex
	fail   map[string]bool
	waited []string
}

func (w *fakeWaiter) Wait(_ context.Context, fqdn, _ string) (propagation.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waited = append(w.waited, fqdn)
	if w.fail[fqdn] {
		return propagation.Result{Phase: propagation.PhaseAuthoritative, Attempts: 20}, propagation.ErrPropagationTimeout
	}
	return propagation.Result{Propagated: true, Phase: propagation.PhasePublic}, nil
}

// fakeCNAME 固定的CNAME表
type fakeCNAME map[string]string

func (c fakeCNAME) LookupCNAME(_ context.Context, name string) (string, error) {
	if target, ok := c[name]; ok {
		return target + ".", nil
	}
	return "", errors.New("no CNAME")
}

func account(name string, dns *fakeDNS, domains ...string) *provider.Account {
	return &provider.Account{Name: name, Type: "fake", Domains: domains, DNS: dns}
}

// authz 为域名生成一个带 dns-01 和 http-01 验证的授权
func authz(identifier string, wildcard bool) acme.Authorization {
	prefix := identifier
	if wildcard {
		prefix = "*." + identifier
	}
	return acme.Authorization{
		URL:        "https://ca/authz/" + prefix,
		Identifier: identifier,
		Wildcard:   wildcard,
		Status:     acme.StatusPending,
		Challenges: []acme.Challenge{
			{Type: "http-01", URL: "https://ca/chall/http/" + prefix, Token: "http-" + prefix},
			{Type: acme.ChallengeTypeDNS01, URL: "https://ca/chall/dns/" + prefix, Token: "tok-" + prefix},
		},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

// purgingDNS 支持清除整个记录集的 fakeDNS
type purgingDNS struct {
	*fakeDNS
	purged []string
}

func (p *purgingDNS) PurgeTXTRecords(_ context.Context, fqdn string) (provider.DeleteResult, error) {
	if err := provider.CheckChallengeHost(fqdn); err != nil {
		return provider.NotFound, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, fqdn)
	if _, ok := p.records[fqdn]; !ok {
		return provider.NotFound, nil
	}
	delete(p.records, fqdn)
	return provider.Deleted, nil
}
