package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintWalletIdempotencyKey = "wallet_entries_wallet_id_idempotency_key_key"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	postgresDialectorName          = "postgres"

	errorOperationStore  = "store"
	errorSubjectWallet   = "wallet"
	errorSubjectEntry    = "entry"
	errorSubjectHold     = "hold"
	errorSubjectIdentity = "identity"
	errorSubjectBalance  = "balance"

	errorCodeLookup       = "lookup"
	errorCodeInsert       = "insert"
	errorCodeUpsert       = "upsert"
	errorCodeGet          = "get"
	errorCodeList         = "list"
	errorCodeSum          = "sum"
	errorCodeUpdateStatus = "update_status"
	errorCodeExpire       = "expire"
	errorCodeInvalid      = "invalid"
)

// Store implements wallet.Store using GORM. It serves postgres in production
// and glebarez/sqlite for development and tests.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the wallet tables. Intended for sqlite and test
// databases; postgres schemas are managed externally.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &WalletEntry{}, &WalletHold{}, &ExternalIdentity{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateWallet(ctx context.Context, orgID wallet.OrgID, userID wallet.UserID, currency string) (wallet.Wallet, error) {
	record := Wallet{
		OrgID:    orgID.String(),
		UserID:   userID.String(),
		Currency: currency,
		Status:   wallet.WalletStatusActive.String(),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInsert, result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the insert race: the stored row wins, not the generated id.
		var existing Wallet
		lookupErr := store.db.WithContext(ctx).
			Where("org_id = ? AND user_id = ? AND currency = ?", orgID.String(), userID.String(), currency).
			Take(&existing).Error
		if lookupErr != nil {
			return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, lookupErr)
		}
		record = existing
	}
	walletRecord, err := mapWallet(record)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return walletRecord, nil
}

func (store *Store) GetWallet(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID) (wallet.Wallet, error) {
	var record Wallet
	err := store.db.WithContext(ctx).
		Where("org_id = ? AND wallet_id = ?", orgID.String(), walletID.String()).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Wallet{}, wallet.ErrWalletNotFound
		}
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	walletRecord, err := mapWallet(record)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return walletRecord, nil
}

func (store *Store) UpdateWalletStatus(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID, status wallet.WalletStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("org_id = ? AND wallet_id = ?", orgID.String(), walletID.String()).
		Update("status", status.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, input wallet.EntryInput) (wallet.EntryID, error) {
	referenceJSON, err := input.Reference().JSONString()
	if err != nil {
		return wallet.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	record := WalletEntry{
		OrgID:          input.OrgID().String(),
		WalletID:       input.WalletID().String(),
		Direction:      input.Direction().String(),
		AmountCents:    input.AmountCents().Int64(),
		Reason:         input.Reason().String(),
		Reference:      datatypes.JSON([]byte(referenceJSON)),
		IdempotencyKey: input.IdempotencyKey().String(),
		CreatedAt:      time.Unix(input.CreatedUnixUTC(), 0).UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	err = store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err) {
		// Replay of the same idempotency key: the original row wins.
		var existing WalletEntry
		lookupErr := store.db.WithContext(ctx).
			Select("entry_id").
			Where("wallet_id = ? AND idempotency_key = ?", input.WalletID().String(), input.IdempotencyKey().String()).
			Take(&existing).Error
		if lookupErr != nil {
			return wallet.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeLookup, lookupErr)
		}
		return wallet.NewEntryID(existing.EntryID)
	}
	if err != nil {
		return wallet.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return wallet.NewEntryID(record.EntryID)
}

func (store *Store) SumEntries(ctx context.Context, walletID wallet.WalletID, direction wallet.EntryDirection) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletEntry{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("wallet_id = ? AND direction = ?", walletID.String(), direction.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) SumActiveHolds(ctx context.Context, walletID wallet.WalletID, nowUnixUTC int64) (int64, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletHold{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("wallet_id = ? AND status = ? AND expires_at > ?", walletID.String(), wallet.HoldStatusActive.String(), now).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) CreateHold(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID, provider wallet.Provider, orderID wallet.OrderID, amount wallet.AmountCents, expiresUnixUTC int64, createdUnixUTC int64) (wallet.HoldID, error) {
	record := WalletHold{
		OrgID:       orgID.String(),
		WalletID:    walletID.String(),
		Provider:    provider.String(),
		OrderID:     orderID.String(),
		AmountCents: amount.Int64(),
		Status:      wallet.HoldStatusActive.String(),
		ExpiresAt:   time.Unix(expiresUnixUTC, 0).UTC(),
		CreatedAt:   time.Unix(createdUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wallet.HoldID{}, wrapStoreError(errorSubjectHold, errorCodeInsert, err)
	}
	return wallet.NewHoldID(record.HoldID)
}

func (store *Store) GetHoldForUpdate(ctx context.Context, orgID wallet.OrgID, holdID wallet.HoldID) (wallet.Hold, error) {
	query := store.db.WithContext(ctx)
	// sqlite has no row locks; its single writer serializes transactions.
	if store.db.Dialector.Name() == postgresDialectorName {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record WalletHold
	err := query.
		Where("org_id = ? AND hold_id = ?", orgID.String(), holdID.String()).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Hold{}, wallet.ErrHoldNotFound
		}
		return wallet.Hold{}, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	hold, err := mapHold(record)
	if err != nil {
		return wallet.Hold{}, wrapStoreError(errorSubjectHold, errorCodeInvalid, err)
	}
	return hold, nil
}

func (store *Store) UpdateHoldStatus(ctx context.Context, orgID wallet.OrgID, holdID wallet.HoldID, from, to wallet.HoldStatus) error {
	result := store.db.WithContext(ctx).
		Model(&WalletHold{}).
		Where("org_id = ? AND hold_id = ? AND status = ?", orgID.String(), holdID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wallet.ErrHoldNotActive
	}
	return nil
}

func (store *Store) FindActiveHoldByOrder(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID, orderID wallet.OrderID, nowUnixUTC int64) (*wallet.Hold, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	var record WalletHold
	err := store.db.WithContext(ctx).
		Where("org_id = ? AND wallet_id = ? AND order_id = ? AND status = ? AND expires_at > ?",
			orgID.String(), walletID.String(), orderID.String(), wallet.HoldStatusActive.String(), now).
		Order("created_at DESC").
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	hold, err := mapHold(record)
	if err != nil {
		return nil, wrapStoreError(errorSubjectHold, errorCodeInvalid, err)
	}
	return &hold, nil
}

func (store *Store) ExpireHoldsDue(ctx context.Context, nowUnixUTC int64, limit int) (int64, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	due := store.db.
		Model(&WalletHold{}).
		Select("hold_id").
		Where("status = ? AND expires_at <= ?", wallet.HoldStatusActive.String(), now).
		Order("expires_at").
		Limit(limit)
	result := store.db.WithContext(ctx).
		Model(&WalletHold{}).
		Where("hold_id IN (?)", due).
		Update("status", wallet.HoldStatusExpired.String())
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectHold, errorCodeExpire, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) ListEntries(ctx context.Context, walletID wallet.WalletID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at < ?", walletID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) FindExternalIdentity(ctx context.Context, orgID wallet.OrgID, provider wallet.Provider, providerUserID string) (wallet.ExternalIdentity, bool, error) {
	var record ExternalIdentity
	err := store.db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND provider_user_id = ?", orgID.String(), provider.String(), providerUserID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.ExternalIdentity{}, false, nil
		}
		return wallet.ExternalIdentity{}, false, wrapStoreError(errorSubjectIdentity, errorCodeGet, err)
	}
	return wallet.ExternalIdentity{
		OrgID:          record.OrgID,
		Provider:       record.Provider,
		ProviderUserID: record.ProviderUserID,
		UserID:         record.UserID,
		Email:          record.Email,
	}, true, nil
}

func (store *Store) UpsertExternalIdentity(ctx context.Context, identity wallet.ExternalIdentity) error {
	record := ExternalIdentity{
		OrgID:          identity.OrgID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		UserID:         identity.UserID,
		Email:          identity.Email,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "provider"}, {Name: "provider_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email"}),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectIdentity, errorCodeUpsert, err)
	}
	return nil
}

type sqlSum struct {
	Total int64
}

func mapWallet(record Wallet) (wallet.Wallet, error) {
	walletID, err := wallet.NewWalletID(record.WalletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	orgID, err := wallet.NewOrgID(record.OrgID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	userID, err := wallet.NewUserID(record.UserID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	status, err := wallet.ParseWalletStatus(record.Status)
	if err != nil {
		return wallet.Wallet{}, err
	}
	return wallet.Wallet{
		WalletID:       walletID,
		OrgID:          orgID,
		UserID:         userID,
		Currency:       record.Currency,
		Status:         status,
		CreatedUnixUTC: record.CreatedAt.Unix(),
		UpdatedUnixUTC: record.UpdatedAt.Unix(),
	}, nil
}

func mapHold(record WalletHold) (wallet.Hold, error) {
	holdID, err := wallet.NewHoldID(record.HoldID)
	if err != nil {
		return wallet.Hold{}, err
	}
	orgID, err := wallet.NewOrgID(record.OrgID)
	if err != nil {
		return wallet.Hold{}, err
	}
	walletID, err := wallet.NewWalletID(record.WalletID)
	if err != nil {
		return wallet.Hold{}, err
	}
	provider, err := wallet.NewProvider(record.Provider)
	if err != nil {
		return wallet.Hold{}, err
	}
	orderID, err := wallet.NewOrderID(record.OrderID)
	if err != nil {
		return wallet.Hold{}, err
	}
	amount, err := wallet.NewAmountCents(record.AmountCents)
	if err != nil {
		return wallet.Hold{}, err
	}
	status, err := wallet.ParseHoldStatus(record.Status)
	if err != nil {
		return wallet.Hold{}, err
	}
	return wallet.NewHold(holdID, orgID, walletID, provider, orderID, amount, status, record.ExpiresAt.Unix(), record.CreatedAt.Unix())
}

func mapEntry(row WalletEntry) (wallet.Entry, error) {
	direction, err := wallet.ParseEntryDirection(row.Direction)
	if err != nil {
		return wallet.Entry{}, err
	}
	reason, err := wallet.ParseEntryReason(row.Reason)
	if err != nil {
		return wallet.Entry{}, err
	}
	return wallet.Entry{
		EntryID:        row.EntryID,
		WalletID:       row.WalletID,
		Direction:      direction,
		AmountCents:    row.AmountCents,
		Reason:         reason,
		ReferenceJSON:  string(row.Reference),
		IdempotencyKey: row.IdempotencyKey,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintWalletIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
