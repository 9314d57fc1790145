package middleware

type httpConfig struct {
	// paths whose request and response bodies are never logged, path => true
	noBodyLogPaths map[string]bool
}

// Option tunes the HTTP log middleware.
type Option func(*httpConfig)

func defaultHTTPConfig() *httpConfig {
	return &httpConfig{
		noBodyLogPaths: make(map[string]bool),
	}
}

// NoBodyLog keeps the bodies of the given paths out of the log, e.g. routes
// carrying signatures or session tokens.
func NoBodyLog(paths ...string) Option {
	return func(c *httpConfig) {
		for _, p := range paths {
			c.noBodyLogPaths[p] = true
		}
	}
}
