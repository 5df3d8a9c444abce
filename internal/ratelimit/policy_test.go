package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return NewResolver(
		Policy{RequestsPerMinute: 60, RequestsPerHour: 1000},
		[]Policy{
			{Name: "/api/auth/login", RequestsPerMinute: 5, RequestsPerHour: 20},
			{Name: "/api/auth/register", RequestsPerMinute: 3, RequestsPerHour: 10},
			{Name: "/api/users/", RequestsPerMinute: 30, RequestsPerHour: 1000},
			{Name: "/api/users/admin/", RequestsPerMinute: 2, RequestsPerHour: 10},
			{Name: "/api/", RequestsPerMinute: 100, RequestsPerHour: 5000},
		},
	)
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := testResolver()

	tests := []struct {
		name       string
		path       string
		wantPolicy string
		wantRPM    uint64
	}{
		{name: "exact match", path: "/api/auth/login", wantPolicy: "/api/auth/login", wantRPM: 5},
		{name: "prefix match", path: "/api/users/7", wantPolicy: "/api/users/", wantRPM: 30},
		{name: "longest prefix wins", path: "/api/users/admin/reset", wantPolicy: "/api/users/admin/", wantRPM: 2},
		{name: "shorter prefix", path: "/api/items", wantPolicy: "/api/", wantRPM: 100},
		{name: "exact path also acts as prefix", path: "/api/auth/login/sso", wantPolicy: "/api/auth/login", wantRPM: 5},
		{name: "default", path: "/", wantPolicy: DefaultPolicyName, wantRPM: 60},
		{name: "empty path", path: "", wantPolicy: DefaultPolicyName, wantRPM: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := r.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPolicy, p.Name)
			assert.Equal(t, tt.wantRPM, p.RequestsPerMinute)
		})
	}
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		p, err := testResolver().Resolve("/api/users/admin/x")
		require.NoError(t, err)
		assert.Equal(t, "/api/users/admin/", p.Name)
	}
}

func TestResolver_LaterDuplicateWins(t *testing.T) {
	t.Parallel()

	r := NewResolver(Policy{}, []Policy{
		{Name: "/login", RequestsPerMinute: 5, RequestsPerHour: 20},
		{Name: "/login", RequestsPerMinute: 7, RequestsPerHour: 21},
		{Name: "", RequestsPerMinute: 1, RequestsPerHour: 1},
	})

	p, err := r.Resolve("/login")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), p.RequestsPerMinute)
	assert.Len(t, r.prefixes, 1)
}

func TestResolver_NotFound(t *testing.T) {
	t.Parallel()

	var nilResolver *Resolver
	_, err := nilResolver.Resolve("/x")
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	_, err = (&Resolver{}).Resolve("/x")
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestResolver_UnmatchedUsesDefault(t *testing.T) {
	t.Parallel()

	def, err := testResolver().Resolve("/not/configured")
	require.NoError(t, err)
	assert.Equal(t, Policy{Name: DefaultPolicyName, RequestsPerMinute: 60, RequestsPerHour: 1000}, def)
}
