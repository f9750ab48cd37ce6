package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentialStore struct {
	mu    sync.Mutex
	creds map[int64]channel.Credential
	saves int
}

func (s *credentialStore) Get(_ context.Context, id int64) (*channel.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, errors.ErrCredentialNotFound
	}
	return &c, nil
}

func (s *credentialStore) SaveTokens(_ context.Context, c *channel.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.ID] = *c
	s.saves++
	return nil
}

type mutexLocker struct{ mu sync.Mutex }

func (l *mutexLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

func newTokenServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestResolver(store *credentialStore, now time.Time) *Resolver {
	r := NewResolver(store, &mutexLocker{}, time.Second, observability.NewMetrics("test", prometheus.NewRegistry()), zerolog.Nop())
	r.retry.InitialDelay = time.Millisecond
	r.retry.MaxDelay = time.Millisecond
	r.now = func() time.Time { return now }
	return r
}

func TestResolver_ValidTokenIsReturnedAsIs(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Hour)
	store := &credentialStore{creds: map[int64]channel.Credential{
		1: {ID: 1, AccessToken: "live", ExpiresAt: &exp},
	}}

	cred, err := newTestResolver(store, now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "live", cred.AccessToken)
	assert.Zero(t, store.saves)
}

func TestResolver_RefreshesExpiredToken(t *testing.T) {
	srv, hits := newTokenServer(t, http.StatusOK,
		`{"access_token":"fresh","token_type":"bearer","expires_in":3600,"refresh_token":"r2"}`)
	now := time.Now()
	past := now.Add(-time.Minute)
	store := &credentialStore{creds: map[int64]channel.Credential{
		1: {ID: 1, ClientID: "c", ClientSecret: "s", TokenURL: srv.URL, AccessToken: "stale", RefreshToken: "r1", ExpiresAt: &past},
	}}
	resolver := newTestResolver(store, now)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := resolver.Resolve(context.Background(), 1)
			assert.NoError(t, err)
			if cred != nil {
				assert.Equal(t, "fresh", cred.AccessToken)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "concurrent resolvers refresh once")
	saved := store.creds[1]
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "r2", saved.RefreshToken)
	require.NotNil(t, saved.ExpiresAt)
}

func TestResolver_InvalidGrantIsNotRetried(t *testing.T) {
	srv, hits := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	now := time.Now()
	store := &credentialStore{creds: map[int64]channel.Credential{
		1: {ID: 1, TokenURL: srv.URL, RefreshToken: "revoked"},
	}}

	_, err := newTestResolver(store, now).Resolve(context.Background(), 1)
	assert.ErrorIs(t, err, errors.ErrCredentialUnresolvable)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Zero(t, store.saves)
}

func TestResolver_Unresolvable(t *testing.T) {
	store := &credentialStore{creds: map[int64]channel.Credential{
		2: {ID: 2},
	}}
	resolver := newTestResolver(store, time.Now())

	_, err := resolver.Resolve(context.Background(), 99)
	assert.ErrorIs(t, err, errors.ErrCredentialUnresolvable)
	assert.ErrorIs(t, err, errors.ErrCredentialNotFound)

	_, err = resolver.Resolve(context.Background(), 2)
	assert.ErrorIs(t, err, errors.ErrCredentialUnresolvable)
}

func TestResolver_Invalidate(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	store := &credentialStore{creds: map[int64]channel.Credential{
		3: {ID: 3, AccessToken: "a", RefreshToken: "r", ExpiresAt: &exp},
	}}
	resolver := newTestResolver(store, time.Now())

	require.NoError(t, resolver.Invalidate(context.Background(), 3))
	assert.Empty(t, store.creds[3].AccessToken)
	assert.Equal(t, "r", store.creds[3].RefreshToken)
}
