package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/pkg/log"
)

const (
	streamBuffer = 16
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = pingPeriod + writeWait
)

// stream pushes the current snapshot and then every change. A client that
// falls behind by more than the buffer is disconnected.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("http - upgrade state stream: %v", err)
		return
	}
	defer conn.Close()

	updates := make(chan store.Snapshot, streamBuffer)
	overflow := make(chan struct{})
	var overflowed bool
	unsubscribe := s.wallet.Store().Subscribe(func(snap store.Snapshot) {
		if overflowed {
			return
		}
		select {
		case updates <- snap:
		default:
			overflowed = true
			close(overflow)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			log.Warnf("http - state stream of %s fell behind, closing", c.ClientIP())
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(writeWait))
			return
		case <-closed:
			return
		}
	}
}
