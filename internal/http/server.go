// Package http exposes the connection state and actions over HTTP, with a
// websocket stream of store snapshots.
package http

import (
	"context"
	stdlog "log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/wallet-sync/internal/auth"
	"moff.io/wallet-sync/internal/config"
	"moff.io/wallet-sync/internal/connection"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
	"moff.io/wallet-sync/pkg/log/middleware"
)

// Wallet is the connection manager as used by the routes.
type Wallet interface {
	Store() *store.Store
	Client() wallet.Client
	Connect(ctx context.Context, chainID int) connection.Result
	OpenModalAndConnect(ctx context.Context) connection.Result
	Disconnect(ctx context.Context)
}

var _ Wallet = (*connection.Manager)(nil)

type Options struct {
	Address        string
	RequestTimeout time.Duration
	// Auth, when set, mounts the sign-in API.
	Auth *auth.Server
}

type Server struct {
	opts     Options
	wallet   Wallet
	upgrader websocket.Upgrader

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(w Wallet, opts Options) *Server {
	return &Server{
		opts:   opts,
		wallet: w,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Apply takes the listen address and request timeout from the configuration
// when they were not set explicitly.
func (s *Server) Apply(c *config.Configuration) {
	if c == nil {
		return
	}
	if s.opts.Address == "" {
		s.opts.Address = c.HTTP.Address
	}
	if s.opts.RequestTimeout <= 0 {
		s.opts.RequestTimeout = c.HTTP.RequestTimeout
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(middleware.NoBodyLog("/api/verify", "/modal/qr.png")))

	// Long lived routes are not bound by the request timeout.
	router.GET("/state/stream", s.stream)
	router.POST("/wallet/connect/modal", s.connectModal)

	timed := router.Group("/", middleware.TimeoutHTTP(s.opts.RequestTimeout))
	timed.GET("/state", s.state)
	timed.GET("/connectors", s.connectors)
	timed.POST("/wallet/connect", s.connect)
	timed.POST("/wallet/disconnect", s.disconnect)
	timed.GET("/modal/qr.png", s.qr)
	timed.POST("/modal/close", s.closeModal)
	timed.GET("/chain/block", s.blockNumber)
	if s.opts.Auth != nil {
		s.opts.Auth.Register(timed)
	}
	return router
}

// Start serves in the background until Stop.
func (s *Server) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return
	}
	addr := s.opts.Address
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ErrorLog: stdlog.New(log.Writer(), "", 0)}
	s.srv = srv
	go func() {
		log.Infof("http - listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(errors.WrapAndReport(err, "serve http"))
		}
	}()
}

func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("http - shutdown: %v", err)
	}
}

type connectorInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

type resultBody struct {
	Success   bool   `json:"success"`
	Address   string `json:"address,omitempty"`
	ChainID   int    `json:"chainId,omitempty"`
	Connector string `json:"connector,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newResultBody(r connection.Result) resultBody {
	body := resultBody{
		Success:   r.Success,
		Address:   r.Account.Address,
		ChainID:   r.Account.ChainID,
		Connector: r.Account.Connector,
	}
	if r.Err != nil {
		body.Error = r.Err.Error()
	}
	return body
}

func resultStatus(r connection.Result) int {
	switch {
	case r.Success:
		return http.StatusOK
	case errors.Is(r.Err, connection.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(r.Err, connection.ErrUnsupportedChain):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func (s *Server) state(c *gin.Context) {
	st := s.wallet.Store()
	body := gin.H{"state": st.Snapshot()}
	if paths := st.SignIn(); paths != nil {
		body["signIn"] = paths
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) connectors(c *gin.Context) {
	list := s.wallet.Store().Connectors()
	out := make([]connectorInfo, 0, len(list))
	for _, conn := range list {
		out = append(out, connectorInfo{ID: conn.ID(), Name: conn.Name(), Ready: conn.Ready()})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) connect(c *gin.Context) {
	chainID := 0
	if raw := c.Query("chain_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			c.JSON(http.StatusBadRequest, resultBody{Error: "invalid chain_id"})
			return
		}
		chainID = id
	}
	res := s.wallet.Connect(c.Request.Context(), chainID)
	c.JSON(resultStatus(res), newResultBody(res))
}

func (s *Server) connectModal(c *gin.Context) {
	res := s.wallet.OpenModalAndConnect(c.Request.Context())
	c.JSON(resultStatus(res), newResultBody(res))
}

func (s *Server) disconnect(c *gin.Context) {
	s.wallet.Disconnect(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"state": s.wallet.Store().Snapshot()})
}

type pngSource interface {
	PNG() ([]byte, bool)
}

func (s *Server) qr(c *gin.Context) {
	src, ok := s.wallet.Store().Modal().(pngSource)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "modal has no qr code"})
		return
	}
	png, ok := src.PNG()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "modal is not showing a qr code"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) closeModal(c *gin.Context) {
	md := s.wallet.Store().Modal()
	if md == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": connection.ErrNotConfigured.Error()})
		return
	}
	md.Close()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type transportSource interface {
	Transport(chainID int) *wallet.Transport
}

func (s *Server) blockNumber(c *gin.Context) {
	src, ok := s.wallet.Client().(transportSource)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": connection.ErrNotConfigured.Error()})
		return
	}
	chainID := s.wallet.Store().Snapshot().ChainID
	if raw := c.Query("chain_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain_id"})
			return
		}
		chainID = id
	}
	t := src.Transport(chainID)
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chain " + strconv.Itoa(chainID) + " is not configured"})
		return
	}
	n, err := t.BlockNumber(c.Request.Context())
	if err != nil {
		log.Warnf("http - %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chainId": chainID, "blockNumber": n})
}
