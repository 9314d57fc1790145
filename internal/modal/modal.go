// Package modal is the connect dialog. A QR modal shows the pairing code of a
// remote wallet and closes itself when the attempt fails or times out.
package modal

import (
	"context"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

var (
	ErrNoConnector = errors.New("modal has no connector")
	ErrReleased    = errors.New("modal was released")
)

type Unsubscribe func()

// Controller is the modal handle published to the UI layer.
type Controller interface {
	// Open shows the modal and starts a connect attempt. It returns once the
	// modal is shown; opening an open modal is a no-op.
	Open(ctx context.Context) error
	// SubscribeClose registers fn to run every time the modal is dismissed
	// without a connected account.
	SubscribeClose(fn func()) Unsubscribe
	Close()
	// Release closes the modal for good and detaches it from its connector.
	Release()
}

type QROptions struct {
	Client    wallet.Client
	Connector wallet.Connector
	ChainID   int
	// Size of the png in pixels, 256 when unset.
	Size int
	// FilePath, when set, receives a copy of every generated png.
	FilePath string
	// Timeout closes the modal when no account connects in time. Zero waits
	// until Close.
	Timeout time.Duration
}

var _ Controller = (*QR)(nil)

type QR struct {
	opts        QROptions
	stopPairing wallet.Unsubscribe

	mu       sync.Mutex
	released bool
	open     bool
	attempt  uint64
	cancel   context.CancelFunc
	uri      string
	png      []byte

	nextSub uint64
	subs    map[uint64]func()
}

func NewQR(opts QROptions) *QR {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	q := &QR{opts: opts, subs: make(map[uint64]func())}
	if p, ok := opts.Connector.(wallet.Pairer); ok {
		q.stopPairing = p.OnPairingURI(q.onPairingURI)
	}
	return q
}

func (q *QR) Open(context.Context) error {
	if q.opts.Connector == nil || q.opts.Client == nil {
		return ErrNoConnector
	}
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return ErrReleased
	}
	if q.open {
		q.mu.Unlock()
		return nil
	}
	q.open = true
	q.attempt++
	id := q.attempt
	var ctx context.Context
	if q.opts.Timeout > 0 {
		ctx, q.cancel = context.WithTimeout(context.Background(), q.opts.Timeout)
	} else {
		ctx, q.cancel = context.WithCancel(context.Background())
	}
	q.mu.Unlock()

	go q.run(ctx, id)
	return nil
}

func (q *QR) run(ctx context.Context, id uint64) {
	_, err := q.opts.Client.Connect(ctx, wallet.ConnectParams{ChainID: q.opts.ChainID, Connector: q.opts.Connector})
	if err != nil {
		log.Infof("modal - connect through %s ended: %v", q.opts.Connector.ID(), err)
		q.dismiss(id)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.open && q.attempt == id {
		q.resetLocked()
	}
}

func (q *QR) resetLocked() {
	q.open = false
	q.uri, q.png = "", nil
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

// dismiss closes attempt id and runs the close handlers once.
func (q *QR) dismiss(id uint64) {
	q.mu.Lock()
	if !q.open || q.attempt != id {
		q.mu.Unlock()
		return
	}
	q.resetLocked()
	handlers := make([]func(), 0, len(q.subs))
	for _, fn := range q.subs {
		handlers = append(handlers, fn)
	}
	q.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Close is the user dismissing the modal.
func (q *QR) Close() {
	q.mu.Lock()
	id := q.attempt
	q.mu.Unlock()
	q.dismiss(id)
}

// Release dismisses an open modal, cancelling its connect attempt, and stops
// listening for pairing uris. Open fails afterwards.
func (q *QR) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	q.mu.Unlock()
	q.Close()
	if q.stopPairing != nil {
		q.stopPairing()
	}
}

func (q *QR) SubscribeClose(fn func()) Unsubscribe {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSub++
	id := q.nextSub
	q.subs[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subs, id)
	}
}

func (q *QR) onPairingURI(uri string) {
	png, err := qrcode.Encode(uri, qrcode.Medium, q.opts.Size)
	if err != nil {
		log.Errorf("modal - encode pairing qr code: %v", err)
		return
	}
	if q.opts.FilePath != "" {
		if err := qrcode.WriteFile(uri, qrcode.Medium, q.opts.Size, q.opts.FilePath); err != nil {
			log.Warnf("modal - write qr code to %s: %v", q.opts.FilePath, err)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.open {
		return
	}
	q.uri, q.png = uri, png
}

func (q *QR) IsOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open
}

// PNG returns the current pairing qr code, false until the connector has
// produced a pairing uri.
func (q *QR) PNG() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.png, q.png != nil
}

func (q *QR) URI() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.uri
}
