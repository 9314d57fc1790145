package database

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"moff.io/wallet-sync/internal/auth"
	"moff.io/wallet-sync/pkg/errors"
)

type SignIn struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex;size:64"`
	Address   string `gorm:"index;size:42"`
	ChainID   int
	Domain    string
	Nonce     string
	CreatedAt int64 `gorm:"index"`
}

// Recorder stores accepted sign-ins.
type Recorder struct {
	db *gorm.DB
}

var _ auth.Recorder = (*Recorder)(nil)

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) RecordSignIn(ctx context.Context, rec auth.SignInRecord) error {
	row := &SignIn{
		SessionID: rec.SessionID,
		Address:   strings.ToLower(rec.Address),
		ChainID:   rec.ChainID,
		Domain:    rec.Domain,
		Nonce:     rec.Nonce,
		CreatedAt: rec.At.UnixMilli(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	return errors.WrapAndReport(err, "save sign-in")
}

// SignInsOf returns the sign-ins of address, newest first.
func (r *Recorder) SignInsOf(ctx context.Context, address string, limit int) ([]SignIn, error) {
	var rows []SignIn
	err := r.db.WithContext(ctx).
		Where("address = ?", strings.ToLower(address)).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query sign-ins")
	}
	return rows, nil
}
