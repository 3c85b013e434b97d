package auth

import (
	"context"
	"errors"
	"testing"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentityStore struct {
	byID      map[string]*domain.User
	bySubject map[string]*domain.User
	err       error
}

func newFakeIdentityStore(users ...*domain.User) *fakeIdentityStore {
	s := &fakeIdentityStore{
		byID:      make(map[string]*domain.User),
		bySubject: make(map[string]*domain.User),
	}
	for _, u := range users {
		s.byID[u.ID] = u
		if u.Subject != nil && u.Issuer != nil {
			s.bySubject[*u.Issuer+"|"+*u.Subject] = u
		}
	}
	return s
}

func (s *fakeIdentityStore) GetUserByID(_ context.Context, userID string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.byID[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return u, nil
}

func (s *fakeIdentityStore) GetUserBySubject(_ context.Context, subject, issuer string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.bySubject[issuer+"|"+subject]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return u, nil
}

func strPtr(s string) *string { return &s }

func testUsers() []*domain.User {
	return []*domain.User{
		{ID: "user-1", Subject: strPtr("sub-1"), Issuer: strPtr(testLegacyIssuer), IsActive: true},
		{ID: "user-off", IsActive: false},
	}
}

func TestIdentityResolver_BothShapesResolveToSameUser(t *testing.T) {
	ir := NewIdentityResolver(newFakeIdentityStore(testUsers()...), nil)
	ctx := context.Background()

	current, err := ir.Resolve(ctx, CurrentPrincipal{UserID: "user-1"})
	require.NoError(t, err)

	legacy, err := ir.Resolve(ctx, LegacyPrincipal{Subject: "sub-1", Issuer: testLegacyIssuer})
	require.NoError(t, err)

	assert.Equal(t, current.ID, legacy.ID)
}

func TestIdentityResolver_Failures(t *testing.T) {
	tests := []struct {
		name          string
		store         *fakeIdentityStore
		legacyIssuers []string
		principal     Principal
		wantReason    AuthFailureReason
		wantCode      string
	}{
		{
			name:       "unknown user",
			store:      newFakeIdentityStore(testUsers()...),
			principal:  CurrentPrincipal{UserID: "ghost"},
			wantReason: AuthFailureIdentityNotFound,
			wantCode:   "IDENTITY_NOT_FOUND",
		},
		{
			name:       "inactive user",
			store:      newFakeIdentityStore(testUsers()...),
			principal:  CurrentPrincipal{UserID: "user-off"},
			wantReason: AuthFailureIdentityInactive,
			wantCode:   "IDENTITY_NOT_FOUND",
		},
		{
			name:          "legacy issuer outside allow-list",
			store:         newFakeIdentityStore(testUsers()...),
			legacyIssuers: []string{"https://other.example.edu"},
			principal:     LegacyPrincipal{Subject: "sub-1", Issuer: testLegacyIssuer},
			wantReason:    AuthFailureIssuerNotAllowed,
			wantCode:      "INVALID_TOKEN",
		},
		{
			name:       "store failure",
			store:      &fakeIdentityStore{err: errors.New("connection reset")},
			principal:  CurrentPrincipal{UserID: "user-1"},
			wantReason: AuthFailureStoreError,
			wantCode:   "STORE_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ir := NewIdentityResolver(tt.store, tt.legacyIssuers)

			user, err := ir.Resolve(context.Background(), tt.principal)

			require.Error(t, err)
			assert.Nil(t, user)
			authErr, ok := IsAuthError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantReason, authErr.Reason)
			assert.Equal(t, tt.wantCode, authErr.Code())
		})
	}
}

func TestIdentityResolver_AllowListedLegacyIssuer(t *testing.T) {
	ir := NewIdentityResolver(newFakeIdentityStore(testUsers()...), []string{testLegacyIssuer})

	user, err := ir.Resolve(context.Background(), LegacyPrincipal{Subject: "sub-1", Issuer: testLegacyIssuer})

	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}
