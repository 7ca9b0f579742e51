package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeZone(name string) Zone {
	return Zone{Name: name, AuthoritativeType: ZoneTypePrimary, Status: ZoneStatusActive}
}

func TestBestZone(t *testing.T) {
	zones := []Zone{activeZone("com"), activeZone("example.com"), activeZone("b.example.com")}

	tests := []struct {
		name   string
		domain string
		want   string
	}{
		{"most specific", "a.b.example.com", "b.example.com"},
		{"exact", "example.com", "example.com"},
		{"challenge host", "_acme-challenge.www.example.com", "example.com"},
		{"trailing dot and case", "A.B.Example.COM.", "b.example.com"},
		{"tld only", "other.com", "com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, err := BestZone(tt.domain, zones)
			require.NoError(t, err)
			assert.Equal(t, tt.want, z.Name)

			// 幂等
			again, err := BestZone(tt.domain, zones)
			require.NoError(t, err)
			assert.Equal(t, z, again)
		})
	}
}

func TestBestZoneNotFound(t *testing.T) {
	_, err := BestZone("foo.example.org", []Zone{activeZone("example.com")})
	assert.ErrorIs(t, err, ErrZoneNotFound)

	// 后缀必须按标签匹配
	_, err = BestZone("badexample.com", []Zone{activeZone("example.com")})
	assert.ErrorIs(t, err, ErrZoneNotFound)
}

func TestBestZoneSkipsIneligible(t *testing.T) {
	zones := []Zone{
		activeZone("example.com"),
		{Name: "b.example.com", AuthoritativeType: ZoneTypeSecondary, Status: ZoneStatusActive},
		{Name: "a.b.example.com", AuthoritativeType: ZoneTypePrimary, Status: ZoneStatusInactive},
	}

	z, err := BestZone("x.a.b.example.com", zones)
	require.NoError(t, err)
	assert.Equal(t, "example.com", z.Name)
}

func TestBestZoneConflict(t *testing.T) {
	zones := []Zone{activeZone("example.com"), activeZone("Example.com.")}

	_, err := BestZone("www.example.com", zones)
	assert.ErrorIs(t, err, ErrZoneConflict)
}
