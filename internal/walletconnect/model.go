package walletconnect

import (
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/atomic"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
	"moff.io/wallet-sync/pkg/wcutil"
)

type peer struct {
	PeerID   string      `json:"peerId"`
	PeerMeta Meta        `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

// wcMessage is the bridge envelope. Type is one of pub, sub or ack.
type wcMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

func newPayloadFromString(s string) (*wcutil.Payload, error) {
	var payload wcutil.Payload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return &payload, nil
}

func marshalPayload(p *wcutil.Payload) string {
	s, err := json.Marshal(p)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

type jsonRpcRequest struct {
	ID      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// lastPayloadID follows the bridge convention of millisecond time times
// one thousand plus a random suffix, then just counts up.
var lastPayloadID = atomic.NewInt64(time.Now().UnixMilli()*1000 + rand.Int63n(1000))

func payloadID() int64 {
	return lastPayloadID.Inc()
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		ID:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() string {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

// IsSilentPayload reports whether the wallet should handle the request
// without a push notification.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}

type jsonRpcResponse struct {
	ID      int64       `json:"id"`
	JSONRpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sessionParams is the body of wc_sessionRequest results and wc_sessionUpdate
// params.
type sessionParams struct {
	Approved bool     `json:"approved"`
	ChainID  int      `json:"chainId"`
	Accounts []string `json:"accounts"`
	PeerID   string   `json:"peerId,omitempty"`
	PeerMeta *Meta    `json:"peerMeta,omitempty"`
}
