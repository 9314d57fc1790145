// Package signin runs the Sign-In with Ethereum challenge against a remote
// sign-in API: fetch a nonce, build the message, have the wallet sign it and
// submit it for verification.
package signin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	siwe "github.com/spruceid/siwe-go"
	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

const defaultStatement = "Sign in with Ethereum to the app."

// ErrNotAccepted is returned when the verify endpoint rejects the signature.
var ErrNotAccepted = errors.New("sign-in not accepted")

type Options struct {
	Paths Paths
	// Domain and Origin go into the signed message. Both default to the host
	// and origin of the verify endpoint.
	Domain    string
	Origin    string
	Statement string
	// Timeout bounds each API call, not the signature request.
	Timeout time.Duration
	Client  *http.Client
	now     func() time.Time
}

// Signer asks the connected wallet for a personal-sign signature.
type Signer interface {
	SignMessage(ctx context.Context, message string) (string, error)
}

type SignerFunc func(ctx context.Context, message string) (string, error)

func (f SignerFunc) SignMessage(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

type Gate struct {
	opts   Options
	client *http.Client
}

func NewGate(opts Options) (*Gate, error) {
	if err := opts.Paths.Validate(); err != nil {
		return nil, err
	}
	if opts.Domain == "" || opts.Origin == "" {
		u, _ := parseURL(opts.Paths.Verify.URL)
		if opts.Domain == "" {
			opts.Domain = u.Host
		}
		if opts.Origin == "" {
			opts.Origin = u.Scheme + "://" + u.Host
		}
	}
	if opts.Statement == "" {
		opts.Statement = defaultStatement
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.Wrap(err, "create cookie jar")
		}
		c := *client
		c.Jar = jar
		client = &c
	}
	return &Gate{opts: opts, client: client}, nil
}

func (g *Gate) Paths() Paths { return g.opts.Paths }

func (g *Gate) do(ctx context.Context, e Endpoint, body interface{}) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(e.Method), e.URL, reader)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "build request %s", e.URL)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", e.Method, e.URL)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrapf(err, "read %s response", e.URL)
	}
	return resp.StatusCode, data, nil
}

// Challenge fetches a single-use nonce.
func (g *Gate) Challenge(ctx context.Context, address string) (string, error) {
	status, body, err := g.do(ctx, g.opts.Paths.Nonce, nil)
	if err != nil {
		return "", err
	}
	if status/100 != 2 {
		return "", errors.Errorf("nonce endpoint returned %d", status)
	}
	nonce := gjson.ParseBytes(body)
	if nonce.Type != gjson.String || nonce.String() == "" {
		return "", errors.Errorf("nonce endpoint returned %q, want a json string", body)
	}
	log.Debugf("signin - nonce issued for %s", address)
	return nonce.String(), nil
}

// Message builds the EIP-4361 message the wallet signs.
func (g *Gate) Message(address string, chainID int, nonce string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errors.Errorf("invalid address %q", address)
	}
	msg, err := siwe.InitMessage(g.opts.Domain, common.HexToAddress(address).Hex(), g.opts.Origin, nonce, map[string]interface{}{
		"statement": g.opts.Statement,
		"chainId":   chainID,
		"issuedAt":  g.opts.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", errors.Wrap(err, "build sign-in message")
	}
	return msg.String(), nil
}

// Verify submits the signed message. A false result with a nil error means
// the API answered and said no.
func (g *Gate) Verify(ctx context.Context, message, signature string) (bool, error) {
	status, body, err := g.do(ctx, g.opts.Paths.Verify, map[string]string{
		"signature": signature,
		"message":   message,
	})
	if err != nil {
		return false, err
	}
	if status/100 == 5 {
		return false, errors.Errorf("verify endpoint returned %d", status)
	}
	return status/100 == 2 && gjson.GetBytes(body, "ok").Bool(), nil
}

// CheckSession asks whether the API still holds a session for this client.
func (g *Gate) CheckSession(ctx context.Context) (bool, error) {
	status, body, err := g.do(ctx, g.opts.Paths.Session, nil)
	if err != nil {
		return false, err
	}
	if status/100 == 5 {
		return false, errors.Errorf("session endpoint returned %d", status)
	}
	return status/100 == 2 && gjson.GetBytes(body, "ok").Bool(), nil
}

// SignIn runs nonce, message, signature and verification in that order.
// Any failure aborts the attempt.
func (g *Gate) SignIn(ctx context.Context, signer Signer, address string, chainID int) error {
	nonce, err := g.Challenge(ctx, address)
	if err != nil {
		return err
	}
	message, err := g.Message(address, chainID, nonce)
	if err != nil {
		return err
	}
	signature, err := signer.SignMessage(ctx, message)
	if err != nil {
		return errors.Wrap(err, "sign sign-in message")
	}
	ok, err := g.Verify(ctx, message, signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAccepted
	}
	log.Infof("signin - %s signed in on chain %d", address, chainID)
	return nil
}
