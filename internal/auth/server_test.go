package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/wallet/local"
	"moff.io/wallet-sync/pkg/errors"
)

type recorder struct {
	mu      sync.Mutex
	records []SignInRecord
}

func (r *recorder) RecordSignIn(_ context.Context, rec SignInRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := NewMemoryStore()
	if opts.Nonces == nil {
		opts.Nonces = mem
	}
	if opts.Sessions == nil {
		opts.Sessions = mem
	}
	engine := gin.New()
	NewServer(opts).Register(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, mem
}

func connected(t *testing.T) (*local.Connector, string) {
	t.Helper()
	conn, err := local.Generate(1)
	require.NoError(t, err)
	res, err := conn.Connect(context.Background(), 1)
	require.NoError(t, err)
	return conn, res.Address
}

func TestSignInRoundTrip(t *testing.T) {
	rec := &recorder{}
	srv, _ := newTestServer(t, Options{Recorder: rec})
	gate, err := signin.NewGate(signin.Options{Paths: signin.DefaultPaths(srv.URL)})
	require.NoError(t, err)
	conn, address := connected(t)
	signer := signin.SignerFunc(func(ctx context.Context, message string) (string, error) {
		return conn.SignMessage(ctx, address, message)
	})

	ctx := context.Background()
	ok, err := gate.CheckSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, gate.SignIn(ctx, signer, address, 1))
	ok, err = gate.CheckSession(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.records, 1)
	assert.Equal(t, address, rec.records[0].Address)
	assert.Equal(t, 1, rec.records[0].ChainID)
	assert.NotEmpty(t, rec.records[0].SessionID)
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	gate, err := signin.NewGate(signin.Options{Paths: signin.DefaultPaths(srv.URL)})
	require.NoError(t, err)
	conn, address := connected(t)

	ctx := context.Background()
	nonce, err := gate.Challenge(ctx, address)
	require.NoError(t, err)
	message, err := gate.Message(address, 1, nonce)
	require.NoError(t, err)
	signature, err := conn.SignMessage(ctx, address, message)
	require.NoError(t, err)

	ok, err := gate.Verify(ctx, message, signature)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = gate.Verify(ctx, message, signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	gate, err := signin.NewGate(signin.Options{Paths: signin.DefaultPaths(srv.URL)})
	require.NoError(t, err)
	_, address := connected(t)
	other, otherAddress := connected(t)

	err = gate.SignIn(context.Background(), signin.SignerFunc(func(ctx context.Context, message string) (string, error) {
		return other.SignMessage(ctx, otherAddress, message)
	}), address, 1)
	assert.True(t, errors.Is(err, signin.ErrNotAccepted))
}

func TestVerifyChecksDomain(t *testing.T) {
	srv, _ := newTestServer(t, Options{Domain: "app.example.org"})
	gate, err := signin.NewGate(signin.Options{Paths: signin.DefaultPaths(srv.URL)})
	require.NoError(t, err)
	conn, address := connected(t)

	err = gate.SignIn(context.Background(), signin.SignerFunc(func(ctx context.Context, message string) (string, error) {
		return conn.SignMessage(ctx, address, message)
	}), address, 1)
	assert.True(t, errors.Is(err, signin.ErrNotAccepted))
}

func TestVerifyBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, err := http.Post(srv.URL+"/api/verify", "application/json", strings.NewReader(`{"message":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/api/verify", "application/json", strings.NewReader(`{"message":"hello","signature":"0x00"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestNonceRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, Options{Limiter: denyAll{}})

	resp, err := http.Get(srv.URL + "/api/nonce")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLogoutDropsSession(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}
	gate, err := signin.NewGate(signin.Options{Paths: signin.DefaultPaths(srv.URL), Client: client})
	require.NoError(t, err)
	conn, address := connected(t)

	ctx := context.Background()
	require.NoError(t, gate.SignIn(ctx, signin.SignerFunc(func(ctx context.Context, message string) (string, error) {
		return conn.SignMessage(ctx, address, message)
	}), address, 1))

	resp, err := client.Get(srv.URL + "/api/auth")
	require.NoError(t, err)
	var body struct {
		OK      bool   `json:"ok"`
		Address string `json:"address"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.True(t, body.OK)
	assert.Equal(t, address, body.Address)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/auth", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	ok, err := gate.CheckSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	mem := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	mem.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mem.Issue(ctx, "n1", time.Minute))
	require.NoError(t, mem.Create(ctx, "s1", Session{Address: "0xabc"}, time.Minute))

	now = now.Add(2 * time.Minute)
	ok, err := mem.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, err := mem.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)
}
