package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme-manager/internal/challenge"
	"acme-manager/internal/propagation"
	"acme-manager/internal/provider"
)

func TestIssue(t *testing.T) {
	client := &fakeClient{}
	dns := newMemoryDNS()
	issuer := newTestIssuer(client, dns, stubWaiter{})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	iss, err := issuer.Issue(context.Background(), []string{"example.com", "*.example.com", "example.com"})
	require.NoError(t, err)

	_, err = uuid.Parse(iss.AttemptID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"example.com", "*.example.com"}, iss.Domains)
	require.NotNil(t, iss.Certificate)
	assert.Equal(t, "example.com", iss.Certificate.Domain)
	assert.Nil(t, iss.Cleanup)

	assert.Equal(t, 2, client.answered)
	assert.Equal(t, now.Add(360*time.Second), client.deadline)
	assert.Equal(t, 2, dns.deleted)
	assert.Empty(t, dns.records)
}

func TestIssueAuthorizeFailureCleansUp(t *testing.T) {
	client := &fakeClient{}
	dns := newMemoryDNS()
	dns.createErr["_acme-challenge.www.example.com"] = errors.New("quota exceeded")
	issuer := newTestIssuer(client, dns, stubWaiter{})
	issuer.opts.Concurrency = 1

	iss, err := issuer.Issue(context.Background(), []string{"example.com", "www.example.com"})
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)

	require.NotNil(t, iss.Cleanup)
	assert.Equal(t, challenge.CleanupReport{Attempted: 1, Deleted: 1}, *iss.Cleanup)
	assert.Empty(t, dns.records)
	assert.False(t, client.finalized)
}

func TestIssuePropagationTimeout(t *testing.T) {
	client := &fakeClient{}
	dns := newMemoryDNS()
	issuer := newTestIssuer(client, dns, stubWaiter{err: propagation.ErrPropagationTimeout})

	iss, err := issuer.Issue(context.Background(), []string{"example.com"})
	require.ErrorIs(t, err, propagation.ErrPropagationTimeout)

	// Finalize 已删除记录，不再走清理
	assert.Nil(t, iss.Cleanup)
	assert.Equal(t, 1, dns.deleted)
	assert.Zero(t, client.answered)
	assert.False(t, client.finalized)
}

func TestIssueNoProvider(t *testing.T) {
	issuer := newTestIssuer(&fakeClient{}, newMemoryDNS(), stubWaiter{})

	_, err := issuer.Issue(context.Background(), []string{"example.org"})
	assert.ErrorIs(t, err, challenge.ErrNoProviderForDomain)
}

func TestIssueOrderError(t *testing.T) {
	issuer := newTestIssuer(&fakeClient{orderErr: errors.New("rate limited")}, newMemoryDNS(), stubWaiter{})

	iss, err := issuer.Issue(context.Background(), []string{"example.com"})
	require.Error(t, err)
	assert.NotEmpty(t, iss.AttemptID)
}
