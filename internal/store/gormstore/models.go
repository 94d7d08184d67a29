package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table.
type Wallet struct {
	WalletID  string    `gorm:"type:uuid;primaryKey"`
	OrgID     string    `gorm:"not null;index:idx_wallets_org_user_currency,unique,priority:1"`
	UserID    string    `gorm:"not null;index:idx_wallets_org_user_currency,unique,priority:2"`
	Currency  string    `gorm:"not null;index:idx_wallets_org_user_currency,unique,priority:3"`
	Status    string    `gorm:"not null;default:active"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (record *Wallet) BeforeCreate(tx *gorm.DB) error {
	if record.WalletID == "" {
		record.WalletID = uuid.NewString()
	}
	return nil
}

// WalletEntry mirrors the append-only wallet_entries table.
type WalletEntry struct {
	EntryID        string         `gorm:"type:uuid;primaryKey"`
	OrgID          string         `gorm:"not null"`
	WalletID       string         `gorm:"type:uuid;not null;index:idx_entries_wallet_created,priority:1;index:uniq_wallet_idem,unique,priority:1"`
	Direction      string         `gorm:"not null"`
	AmountCents    int64          `gorm:"not null"`
	Reason         string         `gorm:"not null"`
	Reference      datatypes.JSON `gorm:"type:jsonb;not null"`
	IdempotencyKey string         `gorm:"not null;index:uniq_wallet_idem,unique,priority:2"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_entries_wallet_created,priority:2"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

func (record *WalletEntry) BeforeCreate(tx *gorm.DB) error {
	if record.EntryID == "" {
		record.EntryID = uuid.NewString()
	}
	return nil
}

// WalletHold mirrors the wallet_holds table.
type WalletHold struct {
	HoldID      string    `gorm:"type:uuid;primaryKey"`
	OrgID       string    `gorm:"not null;index:idx_holds_org_wallet_order,priority:1"`
	WalletID    string    `gorm:"type:uuid;not null;index:idx_holds_org_wallet_order,priority:2"`
	Provider    string    `gorm:"not null"`
	OrderID     string    `gorm:"not null;index:idx_holds_org_wallet_order,priority:3"`
	AmountCents int64     `gorm:"not null"`
	Status      string    `gorm:"not null;index:idx_holds_status_expires,priority:1"`
	ExpiresAt   time.Time `gorm:"not null;index:idx_holds_status_expires,priority:2"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (WalletHold) TableName() string { return "wallet_holds" }

func (record *WalletHold) BeforeCreate(tx *gorm.DB) error {
	if record.HoldID == "" {
		record.HoldID = uuid.NewString()
	}
	return nil
}

// ExternalIdentity mirrors the external_identities table.
type ExternalIdentity struct {
	OrgID          string    `gorm:"primaryKey"`
	Provider       string    `gorm:"primaryKey"`
	ProviderUserID string    `gorm:"primaryKey"`
	UserID         string    `gorm:"not null"`
	Email          string    `gorm:""`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ExternalIdentity) TableName() string { return "external_identities" }
