package database

import (
	"context"

	"github.com/fatih/structs"
	"gorm.io/gorm"
	"moff.io/wallet-sync/internal/databus"
	"moff.io/wallet-sync/pkg/errors"
)

// StateEvent is one store snapshot as it was published.
type StateEvent struct {
	ID        string `gorm:"primaryKey;size:36"`
	Connected bool
	ChainID   int
	Address   string   `gorm:"index;size:42"`
	Snapshot  JSONBMap `gorm:"type:jsonb"`
	CreatedAt int64    `gorm:"index"`
}

// History is a databus sink writing StateEvent rows.
type History struct {
	db *gorm.DB
}

var _ databus.Sink = (*History)(nil)

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

func (h *History) Name() string { return "postgres" }

func (h *History) Publish(ctx context.Context, e databus.Event) error {
	changed, ok := e.(*databus.StateChanged)
	if !ok {
		return nil
	}
	row := &StateEvent{
		ID:        changed.ID,
		Connected: changed.Snapshot.Connected,
		ChainID:   changed.Snapshot.ChainID,
		Address:   changed.Snapshot.SignerAddress,
		Snapshot:  structs.Map(changed.Snapshot),
		CreatedAt: changed.Timestamp,
	}
	err := h.db.WithContext(ctx).Create(row).Error
	if IsDuplicateKeyErr(err) {
		return nil
	}
	return errors.WrapAndReport(err, "save state event")
}

// Recent returns the latest events, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]StateEvent, error) {
	var rows []StateEvent
	if err := h.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query state events")
	}
	return rows, nil
}
