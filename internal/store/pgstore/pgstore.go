package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintWalletIdempotencyKey = "wallet_entries_wallet_id_idempotency_key_key"
	pgUniqueViolationCode          = "23505"

	errorOperationStore     = "store"
	errorSubjectWallet      = "wallet"
	errorSubjectEntry       = "entry"
	errorSubjectHold        = "hold"
	errorSubjectIdentity    = "identity"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"

	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
	errorCodeLookup       = "lookup"
	errorCodeInsert       = "insert"
	errorCodeUpsert       = "upsert"
	errorCodeGet          = "get"
	errorCodeList         = "list"
	errorCodeSum          = "sum"
	errorCodeUpdateStatus = "update_status"
	errorCodeExpire       = "expire"
	errorCodeInvalid      = "invalid"

	sqlInsertOrGetWallet = `
		insert into wallets(org_id, user_id, currency) values($1, $2, $3)
		on conflict (org_id, user_id, currency) do update set currency = excluded.currency
		returning wallet_id::text, org_id, user_id, currency, status::text,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
	`

	sqlSelectWallet = `
		select wallet_id::text, org_id, user_id, currency, status::text,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
		from wallets
		where org_id = $1 and wallet_id = $2
	`

	sqlUpdateWalletStatus = `
		update wallets set status = $3, updated_at = now()
		where org_id = $1 and wallet_id = $2
	`

	sqlInsertOrGetEntry = `
		insert into wallet_entries(
			entry_id, org_id, wallet_id, direction, amount_cents, reason, reference, idempotency_key, created_at
		)
		values(gen_random_uuid(), $1, $2, $3, $4, $5, $6::jsonb, $7, to_timestamp($8))
		on conflict (wallet_id, idempotency_key) do nothing
		returning entry_id::text
	`

	sqlSelectEntryIDByKey = `
		select entry_id::text from wallet_entries
		where wallet_id = $1 and idempotency_key = $2
	`

	sqlSumEntries = `
		select coalesce(sum(amount_cents),0) from wallet_entries
		where wallet_id = $1 and direction = $2
	`

	sqlSumActiveHolds = `
		select coalesce(sum(amount_cents),0) from wallet_holds
		where wallet_id = $1 and status = 'active' and expires_at > to_timestamp($2)
	`

	sqlInsertHold = `
		insert into wallet_holds(
			hold_id, org_id, wallet_id, provider, order_id, amount_cents, status, expires_at, created_at
		)
		values(gen_random_uuid(), $1, $2, $3, $4, $5, 'active', to_timestamp($6), to_timestamp($7))
		returning hold_id::text
	`

	sqlSelectHoldForUpdate = `
		select hold_id::text, org_id, wallet_id::text, provider, order_id, amount_cents, status::text,
			extract(epoch from expires_at)::bigint, extract(epoch from created_at)::bigint
		from wallet_holds
		where org_id = $1 and hold_id = $2
		for update
	`

	sqlUpdateHoldStatus = `
		update wallet_holds set status = $4, updated_at = now()
		where org_id = $1 and hold_id = $2 and status = $3
	`

	sqlSelectActiveHoldByOrder = `
		select hold_id::text, org_id, wallet_id::text, provider, order_id, amount_cents, status::text,
			extract(epoch from expires_at)::bigint, extract(epoch from created_at)::bigint
		from wallet_holds
		where org_id = $1 and wallet_id = $2 and order_id = $3
			and status = 'active' and expires_at > to_timestamp($4)
		order by created_at desc
		limit 1
	`

	sqlExpireHoldsDue = `
		update wallet_holds set status = 'expired', updated_at = now()
		where hold_id in (
			select hold_id from wallet_holds
			where status = 'active' and expires_at <= to_timestamp($1)
			order by expires_at
			limit $2
		)
	`

	sqlListEntriesBefore = `
		select
			entry_id::text,
			wallet_id::text,
			direction::text,
			amount_cents,
			reason::text,
			coalesce(reference::text,'{}'),
			idempotency_key,
			extract(epoch from created_at)::bigint
		from wallet_entries
		where wallet_id = $1 and ($2::bigint = 0 or created_at < to_timestamp($2::bigint))
		order by created_at desc
		limit $3
	`

	sqlSelectIdentity = `
		select org_id, provider, provider_user_id, user_id, coalesce(email,'')
		from external_identities
		where org_id = $1 and provider = $2 and provider_user_id = $3
	`

	sqlUpsertIdentity = `
		insert into external_identities(org_id, provider, provider_user_id, user_id, email)
		values($1, $2, $3, $4, nullif($5,''))
		on conflict (org_id, provider, provider_user_id) do update set email = excluded.email
	`
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Every
// statement runs through it, so one method set serves both the autocommit
// store and the transactional one.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements wallet.Store over postgres via pgx. A Store created by New
// runs each statement in autocommit; WithTx hands the callback a Store bound
// to a single transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction; nest by reusing it.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateWallet(ctx context.Context, orgID wallet.OrgID, userID wallet.UserID, currency string) (wallet.Wallet, error) {
	row := store.db.QueryRow(ctx, sqlInsertOrGetWallet, orgID.String(), userID.String(), currency)
	walletRecord, err := scanWallet(row)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return walletRecord, nil
}

func (store *Store) GetWallet(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID) (wallet.Wallet, error) {
	row := store.db.QueryRow(ctx, sqlSelectWallet, orgID.String(), walletID.String())
	walletRecord, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Wallet{}, wallet.ErrWalletNotFound
		}
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return walletRecord, nil
}

func (store *Store) UpdateWalletStatus(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID, status wallet.WalletStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateWalletStatus, orgID.String(), walletID.String(), status.String())
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, input wallet.EntryInput) (wallet.EntryID, error) {
	referenceJSON, err := input.Reference().JSONString()
	if err != nil {
		return wallet.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	var entryIDValue string
	err = store.db.QueryRow(ctx, sqlInsertOrGetEntry,
		input.OrgID().String(),
		input.WalletID().String(),
		input.Direction().String(),
		input.AmountCents().Int64(),
		input.Reason().String(),
		referenceJSON,
		input.IdempotencyKey().String(),
		input.CreatedUnixUTC(),
	).Scan(&entryIDValue)
	if errors.Is(err, pgx.ErrNoRows) || isIdempotencyConflict(err) {
		// Conflict on the idempotency key: the original row wins.
		err = store.db.QueryRow(ctx, sqlSelectEntryIDByKey, input.WalletID().String(), input.IdempotencyKey().String()).Scan(&entryIDValue)
	}
	if err != nil {
		return wallet.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entryID, err := wallet.NewEntryID(entryIDValue)
	if err != nil {
		return wallet.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (store *Store) SumEntries(ctx context.Context, walletID wallet.WalletID, direction wallet.EntryDirection) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumEntries, walletID.String(), direction.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum, nil
}

func (store *Store) SumActiveHolds(ctx context.Context, walletID wallet.WalletID, nowUnixUTC int64) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumActiveHolds, walletID.String(), nowUnixUTC).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum, nil
}

func (store *Store) CreateHold(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID, provider wallet.Provider, orderID wallet.OrderID, amount wallet.AmountCents, expiresUnixUTC int64, createdUnixUTC int64) (wallet.HoldID, error) {
	var holdIDValue string
	err := store.db.QueryRow(ctx, sqlInsertHold,
		orgID.String(),
		walletID.String(),
		provider.String(),
		orderID.String(),
		amount.Int64(),
		expiresUnixUTC,
		createdUnixUTC,
	).Scan(&holdIDValue)
	if err != nil {
		return wallet.HoldID{}, wrapStoreError(errorSubjectHold, errorCodeInsert, err)
	}
	holdID, err := wallet.NewHoldID(holdIDValue)
	if err != nil {
		return wallet.HoldID{}, wrapStoreError(errorSubjectHold, errorCodeInvalid, err)
	}
	return holdID, nil
}

func (store *Store) GetHoldForUpdate(ctx context.Context, orgID wallet.OrgID, holdID wallet.HoldID) (wallet.Hold, error) {
	row := store.db.QueryRow(ctx, sqlSelectHoldForUpdate, orgID.String(), holdID.String())
	hold, err := scanHold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Hold{}, wallet.ErrHoldNotFound
		}
		return wallet.Hold{}, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	return hold, nil
}

func (store *Store) UpdateHoldStatus(ctx context.Context, orgID wallet.OrgID, holdID wallet.HoldID, from, to wallet.HoldStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateHoldStatus, orgID.String(), holdID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrHoldNotActive
	}
	return nil
}

func (store *Store) FindActiveHoldByOrder(ctx context.Context, orgID wallet.OrgID, walletID wallet.WalletID, orderID wallet.OrderID, nowUnixUTC int64) (*wallet.Hold, error) {
	row := store.db.QueryRow(ctx, sqlSelectActiveHoldByOrder, orgID.String(), walletID.String(), orderID.String(), nowUnixUTC)
	hold, err := scanHold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	return &hold, nil
}

func (store *Store) ExpireHoldsDue(ctx context.Context, nowUnixUTC int64, limit int) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlExpireHoldsDue, nowUnixUTC, limit)
	if err != nil {
		return 0, wrapStoreError(errorSubjectHold, errorCodeExpire, err)
	}
	return tag.RowsAffected(), nil
}

func (store *Store) ListEntries(ctx context.Context, walletID wallet.WalletID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, walletID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (store *Store) FindExternalIdentity(ctx context.Context, orgID wallet.OrgID, provider wallet.Provider, providerUserID string) (wallet.ExternalIdentity, bool, error) {
	var identity wallet.ExternalIdentity
	err := store.db.QueryRow(ctx, sqlSelectIdentity, orgID.String(), provider.String(), providerUserID).Scan(
		&identity.OrgID,
		&identity.Provider,
		&identity.ProviderUserID,
		&identity.UserID,
		&identity.Email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.ExternalIdentity{}, false, nil
	}
	if err != nil {
		return wallet.ExternalIdentity{}, false, wrapStoreError(errorSubjectIdentity, errorCodeGet, err)
	}
	return identity, true, nil
}

func (store *Store) UpsertExternalIdentity(ctx context.Context, identity wallet.ExternalIdentity) error {
	_, err := store.db.Exec(ctx, sqlUpsertIdentity,
		identity.OrgID,
		identity.Provider,
		identity.ProviderUserID,
		identity.UserID,
		identity.Email,
	)
	if err != nil {
		return wrapStoreError(errorSubjectIdentity, errorCodeUpsert, err)
	}
	return nil
}

func scanWallet(row pgx.Row) (wallet.Wallet, error) {
	var (
		walletIDValue string
		orgIDValue    string
		userIDValue   string
		currency      string
		statusValue   string
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(&walletIDValue, &orgIDValue, &userIDValue, &currency, &statusValue, &createdAt, &updatedAt); err != nil {
		return wallet.Wallet{}, err
	}
	walletID, err := wallet.NewWalletID(walletIDValue)
	if err != nil {
		return wallet.Wallet{}, err
	}
	orgID, err := wallet.NewOrgID(orgIDValue)
	if err != nil {
		return wallet.Wallet{}, err
	}
	userID, err := wallet.NewUserID(userIDValue)
	if err != nil {
		return wallet.Wallet{}, err
	}
	status, err := wallet.ParseWalletStatus(statusValue)
	if err != nil {
		return wallet.Wallet{}, err
	}
	return wallet.Wallet{
		WalletID:       walletID,
		OrgID:          orgID,
		UserID:         userID,
		Currency:       currency,
		Status:         status,
		CreatedUnixUTC: createdAt,
		UpdatedUnixUTC: updatedAt,
	}, nil
}

func scanHold(row pgx.Row) (wallet.Hold, error) {
	var (
		holdIDValue   string
		orgIDValue    string
		walletIDValue string
		providerValue string
		orderIDValue  string
		amountValue   int64
		statusValue   string
		expiresAt     int64
		createdAt     int64
	)
	if err := row.Scan(&holdIDValue, &orgIDValue, &walletIDValue, &providerValue, &orderIDValue, &amountValue, &statusValue, &expiresAt, &createdAt); err != nil {
		return wallet.Hold{}, err
	}
	holdID, err := wallet.NewHoldID(holdIDValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	orgID, err := wallet.NewOrgID(orgIDValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	walletID, err := wallet.NewWalletID(walletIDValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	provider, err := wallet.NewProvider(providerValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	orderID, err := wallet.NewOrderID(orderIDValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	amount, err := wallet.NewAmountCents(amountValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	status, err := wallet.ParseHoldStatus(statusValue)
	if err != nil {
		return wallet.Hold{}, err
	}
	return wallet.NewHold(holdID, orgID, walletID, provider, orderID, amount, status, expiresAt, createdAt)
}

func scanEntries(rows pgx.Rows) ([]wallet.Entry, error) {
	entries := make([]wallet.Entry, 0, 32)
	for rows.Next() {
		var entry wallet.Entry
		var directionValue string
		var reasonValue string
		if err := rows.Scan(
			&entry.EntryID,
			&entry.WalletID,
			&directionValue,
			&entry.AmountCents,
			&reasonValue,
			&entry.ReferenceJSON,
			&entry.IdempotencyKey,
			&entry.CreatedUnixUTC,
		); err != nil {
			return nil, err
		}
		direction, err := wallet.ParseEntryDirection(directionValue)
		if err != nil {
			return nil, err
		}
		reason, err := wallet.ParseEntryReason(reasonValue)
		if err != nil {
			return nil, err
		}
		entry.Direction = direction
		entry.Reason = reason
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintWalletIdempotencyKey
	}
	return false
}
