package signin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	siwe "github.com/spruceid/siwe-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-sync/internal/wallet/local"
	"moff.io/wallet-sync/pkg/errors"
)

type fakeAPI struct {
	mu      sync.Mutex
	accept  bool
	nonces  map[string]bool
	calls   []string
	session string
}

func (a *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nonce", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.calls = append(a.calls, "nonce")
		nonce := siwe.GenerateNonce()
		a.nonces[nonce] = true
		_ = json.NewEncoder(w).Encode(nonce)
	})
	mux.HandleFunc("/api/verify", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.calls = append(a.calls, "verify")
		var body struct{ Message, Signature string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		msg, err := siwe.ParseMessage(body.Message)
		ok := err == nil && a.accept && a.nonces[msg.GetNonce()]
		if ok {
			delete(a.nonces, msg.GetNonce())
			_, err = msg.VerifyEIP191(body.Signature)
			ok = err == nil
		}
		if ok {
			a.session = "s1"
			http.SetCookie(w, &http.Cookie{Name: "wallet_session", Value: "s1", Path: "/"})
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": ok})
	})
	mux.HandleFunc("/api/auth", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.calls = append(a.calls, "session")
		c, err := r.Cookie("wallet_session")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": err == nil && c.Value == a.session})
	})
	return mux
}

func newGate(t *testing.T, accept bool) (*Gate, *fakeAPI) {
	api := &fakeAPI{accept: accept, nonces: make(map[string]bool)}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	g, err := NewGate(Options{Paths: DefaultPaths(srv.URL)})
	require.NoError(t, err)
	return g, api
}

func signerOf(t *testing.T) (*local.Connector, Signer) {
	c, err := local.Generate(1)
	require.NoError(t, err)
	_, err = c.Connect(context.Background(), 1)
	require.NoError(t, err)
	return c, SignerFunc(func(ctx context.Context, message string) (string, error) {
		return c.SignMessage(ctx, c.Address(), message)
	})
}

func TestSignInThenSessionCheck(t *testing.T) {
	g, api := newGate(t, true)
	ctx := context.Background()

	ok, err := g.CheckSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	conn, signer := signerOf(t)
	require.NoError(t, g.SignIn(ctx, signer, conn.Address(), 1))

	ok, err = g.CheckSession(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"session", "nonce", "verify", "session"}, api.calls)
}

func TestSignInNotAccepted(t *testing.T) {
	g, _ := newGate(t, false)
	conn, signer := signerOf(t)
	err := g.SignIn(context.Background(), signer, conn.Address(), 1)
	assert.True(t, errors.Is(err, ErrNotAccepted))
}

func TestSignInAbortsOnRejectedSignature(t *testing.T) {
	g, api := newGate(t, true)
	conn, _ := signerOf(t)
	rejected := errors.New("user rejected")
	err := g.SignIn(context.Background(), SignerFunc(func(context.Context, string) (string, error) {
		return "", rejected
	}), conn.Address(), 1)
	assert.True(t, errors.Is(err, rejected))
	assert.Equal(t, []string{"nonce"}, api.calls)
}

func TestMessageFields(t *testing.T) {
	g, err := NewGate(Options{
		Paths:     DefaultPaths("https://app.example.org"),
		Statement: "Welcome",
		now:       func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	text, err := g.Message("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", 137, "abcdefgh12345678")
	require.NoError(t, err)

	msg, err := siwe.ParseMessage(text)
	require.NoError(t, err)
	assert.Equal(t, "app.example.org", msg.GetDomain())
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", msg.GetAddress().Hex())
	assert.Equal(t, 137, msg.GetChainID())
	assert.Equal(t, "abcdefgh12345678", msg.GetNonce())
	assert.Contains(t, text, "Welcome")
	assert.Contains(t, text, "Issued At: 2024-01-02T03:04:05Z")

	_, err = g.Message("not-an-address", 1, "abcdefgh12345678")
	assert.Error(t, err)
}

func TestPathsValidate(t *testing.T) {
	assert.NoError(t, DefaultPaths("http://localhost:8080").Validate())
	bad := DefaultPaths("http://localhost:8080")
	bad.Verify.Method = "FETCH"
	assert.Error(t, bad.Validate())
	bad = DefaultPaths("")
	assert.Error(t, bad.Validate())
}

func TestChallengeRequiresJSONString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nonce":"x"}`))
	}))
	defer srv.Close()
	g, err := NewGate(Options{Paths: DefaultPaths(srv.URL)})
	require.NoError(t, err)
	_, err = g.Challenge(context.Background(), "0x0")
	assert.Error(t, err)
}
