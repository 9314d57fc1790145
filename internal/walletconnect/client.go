package walletconnect

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
	"moff.io/wallet-sync/pkg/wcutil"
)

var errSessionClosed = errors.New("session closed")

// session is one bridge connection. Responses are routed to the pending
// request with the same id; requests coming from the wallet go to onRequest.
type session struct {
	conn     *websocket.Conn
	key      []byte
	clientID string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan string
	peerID  string

	onRequest func(jsonRpc string)
	onClosed  func()

	done      chan struct{}
	closeOnce sync.Once
}

func dialSession(ctx context.Context, dialer *websocket.Dialer, bridgeURL string, key []byte, clientID string) (*session, error) {
	wsURL := wcutil.GetWebSocketURL(bridgeURL, "wc", "1")
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial to wallet connect bridge url")
	}
	return &session{
		conn:     conn,
		key:      key,
		clientID: clientID,
		pending:  make(map[int64]chan string),
		done:     make(chan struct{}),
	}, nil
}

func (s *session) send(msg wcMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
		return errors.Wrap(err, "write wallet connect message to bridge")
	}
	return nil
}

func (s *session) subscribe() error {
	log.Debugf("wallet connect - subscribe %s", s.clientID)
	return s.send(wcMessage{Topic: s.clientID, Type: "sub", Silent: true})
}

func (s *session) ack() error {
	return s.send(wcMessage{Topic: s.clientID, Type: "ack", Silent: true})
}

func (s *session) publish(topic, jsonRpc string, silent bool) error {
	payload, err := wcutil.Seal([]byte(jsonRpc), s.key)
	if err != nil {
		return err
	}
	return s.send(wcMessage{Topic: topic, Type: "pub", Payload: marshalPayload(payload), Silent: silent})
}

// call publishes req to topic and waits for the matching response.
func (s *session) call(ctx context.Context, topic string, req *jsonRpcRequest) (string, error) {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.pending[req.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	log.Debugf("wallet connect - request %s id:%d", req.Method, req.ID)
	if err := s.publish(topic, req.Marshal(), req.IsSilentPayload()); err != nil {
		return "", err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-s.done:
		return "", errSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *session) decrypt(msg *wcMessage) (string, error) {
	payload, err := newPayloadFromString(msg.Payload)
	if err != nil {
		return "", err
	}
	data, err := wcutil.Open(payload, s.key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// readLoop runs until the connection fails or is closed.
func (s *session) readLoop() {
	defer s.close()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Warnf("wallet connect - read bridge message: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.ack(); err != nil {
			log.Warnf("wallet connect - ack: %v", err)
		}
		msg, err := newWCMessageFromBytes(data)
		if err != nil {
			log.Warnf("wallet connect - %v", err)
			continue
		}
		if msg.Type != "pub" || msg.Topic != s.clientID {
			continue
		}
		jsonRpc, err := s.decrypt(msg)
		if err != nil {
			log.Warnf("wallet connect - decrypt payload: %v", err)
			continue
		}
		s.route(jsonRpc)
	}
}

func (s *session) route(jsonRpc string) {
	if gjson.Get(jsonRpc, "method").Exists() {
		if s.onRequest != nil {
			s.onRequest(jsonRpc)
		}
		return
	}
	id := gjson.Get(jsonRpc, "id").Int()
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		log.Debugf("wallet connect - drop response of unknown request %d", id)
		return
	}
	select {
	case ch <- jsonRpc:
	default:
	}
}

func (s *session) setPeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerID = peerID
}

func (s *session) peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}
