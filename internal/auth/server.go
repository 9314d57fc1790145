// Package auth serves the sign-in API: nonce issuance, Sign-In with Ethereum
// verification and the session check.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	siwe "github.com/spruceid/siwe-go"
	"moff.io/wallet-sync/pkg/common"
	"moff.io/wallet-sync/pkg/concurrent"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

const SessionCookie = "wallet_session"

type Options struct {
	// Domain, when set, must match the domain of every verified message.
	Domain         string
	NonceTTL       time.Duration
	SessionTTL     time.Duration
	CookieSecure   bool
	MaxConcurrency int

	Nonces   NonceStore
	Sessions SessionStore
	// Recorder and Limiter are optional.
	Recorder Recorder
	Limiter  RateLimiter
}

type Server struct {
	opts    Options
	limiter concurrent.Limiter
	now     func() time.Time
}

func NewServer(opts Options) *Server {
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = 10 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 16
	}
	if opts.Nonces == nil || opts.Sessions == nil {
		mem := NewMemoryStore()
		if opts.Nonces == nil {
			opts.Nonces = mem
		}
		if opts.Sessions == nil {
			opts.Sessions = mem
		}
	}
	return &Server{opts: opts, limiter: concurrent.NewLimiter(opts.MaxConcurrency), now: time.Now}
}

// Register mounts the routes under /api.
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.GET("/nonce", s.nonce)
	api.POST("/verify", s.verify)
	api.GET("/auth", s.session)
	api.DELETE("/auth", s.logout)
}

func (s *Server) nonce(c *gin.Context) {
	if s.opts.Limiter != nil {
		allowed, err := s.opts.Limiter.Allow(c.Request.Context(), "nonce:"+c.ClientIP())
		if err != nil {
			log.Warnf("auth - rate limit %s: %v", c.ClientIP(), err)
		} else if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"ok": false})
			return
		}
	}
	nonce := siwe.GenerateNonce()
	if err := s.opts.Nonces.Issue(c.Request.Context(), nonce, s.opts.NonceTTL); err != nil {
		log.Error(errors.WrapAndReport(err, "issue nonce"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce unavailable"})
		return
	}
	c.JSON(http.StatusOK, nonce)
}

type verifyRequest struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := s.limiter.Add(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	defer s.limiter.Done()

	msg, err := siwe.ParseMessage(req.Message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "malformed sign-in message"})
		return
	}
	valid, err := s.opts.Nonces.Consume(ctx, msg.GetNonce())
	if err != nil {
		log.Error(errors.WrapAndReport(err, "consume nonce"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce unavailable"})
		return
	}
	if !valid {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	var domain *string
	if s.opts.Domain != "" {
		domain = &s.opts.Domain
	}
	now := s.now()
	if _, err := msg.Verify(req.Signature, domain, nil, &now); err != nil {
		log.Infof("auth - reject sign-in of %s: %v", common.ShortAddress(msg.GetAddress().Hex()), err)
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}

	id := common.NewCutUUIDString()
	session := Session{Address: msg.GetAddress().Hex(), ChainID: msg.GetChainID(), IssuedAt: now}
	if err := s.opts.Sessions.Create(ctx, id, session, s.opts.SessionTTL); err != nil {
		log.Error(errors.WrapAndReport(err, "create session"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, int(s.opts.SessionTTL/time.Second), "/", "", s.opts.CookieSecure, true)
	s.record(ctx, SignInRecord{
		SessionID: id,
		Address:   session.Address,
		ChainID:   session.ChainID,
		Domain:    msg.GetDomain(),
		Nonce:     msg.GetNonce(),
		At:        now,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) record(ctx context.Context, r SignInRecord) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.RecordSignIn(ctx, r); err != nil {
		log.Warnf("auth - record sign-in of %s: %v", common.ShortAddress(r.Address), err)
	}
}

func (s *Server) session(c *gin.Context) {
	id, err := c.Cookie(SessionCookie)
	if err != nil || id == "" {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	session, ok, err := s.opts.Sessions.Get(c.Request.Context(), id)
	if err != nil {
		log.Error(errors.WrapAndReport(err, "load session"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "address": session.Address, "chainId": session.ChainID})
}

func (s *Server) logout(c *gin.Context) {
	if id, err := c.Cookie(SessionCookie); err == nil && id != "" {
		if err := s.opts.Sessions.Delete(c.Request.Context(), id); err != nil {
			log.Warnf("auth - delete session: %v", err)
		}
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", s.opts.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
