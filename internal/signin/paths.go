package signin

import (
	"net/http"
	"net/url"
	"strings"

	"moff.io/wallet-sync/pkg/errors"
)

// Endpoint is one sign-in API call.
type Endpoint struct {
	Method string `yaml:"method" json:"method"`
	URL    string `yaml:"url" json:"url"`
}

func (e Endpoint) validate(name string) error {
	switch strings.ToUpper(e.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead:
	default:
		return errors.Errorf("%s endpoint: unsupported method %q", name, e.Method)
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("%s endpoint: invalid url %q", name, e.URL)
	}
	return nil
}

// Paths are the three sign-in API endpoints. A configured Paths is never
// modified.
type Paths struct {
	Nonce   Endpoint `yaml:"nonce" json:"nonce"`
	Verify  Endpoint `yaml:"verify" json:"verify"`
	Session Endpoint `yaml:"session" json:"session"`
}

func (p Paths) Validate() error {
	if err := p.Nonce.validate("nonce"); err != nil {
		return err
	}
	if err := p.Verify.validate("verify"); err != nil {
		return err
	}
	return p.Session.validate("session")
}

// DefaultPaths points at the sign-in API routes served under base.
func DefaultPaths(base string) Paths {
	base = strings.TrimSuffix(base, "/")
	return Paths{
		Nonce:   Endpoint{Method: http.MethodGet, URL: base + "/api/nonce"},
		Verify:  Endpoint{Method: http.MethodPost, URL: base + "/api/verify"},
		Session: Endpoint{Method: http.MethodGet, URL: base + "/api/auth"},
	}
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}, errors.Wrap(err, "parse url")
	}
	return u, nil
}
