package wallet

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the domain logic over a Store. It is stateless: all
// concurrency control is delegated to the store's transactions and row locks.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// EnsureWallet resolves or creates the single wallet for (org, user). The
// store upserts on the identity triple, so concurrent first use yields one
// row.
func (service *Service) EnsureWallet(ctx context.Context, orgID OrgID, userID UserID) (Wallet, error) {
	wallet, operationError := service.store.GetOrCreateWallet(ctx, orgID, userID, CurrencyCode)
	service.logOperation(ctx, OperationLog{
		Operation: operationEnsureWallet,
		OrgID:     orgID,
		WalletID:  wallet.WalletID,
		Error:     operationError,
	})
	return wallet, operationError
}

// Balances derives available, on-hold, and total balance from the entry log
// and active holds. The three aggregates run inside one read transaction so
// the view is a consistent snapshot. An unknown wallet yields zero
// aggregates, not an error.
func (service *Service) Balances(ctx context.Context, orgID OrgID, walletID WalletID) (Balances, error) {
	var balances Balances
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.GetWallet(ctx, orgID, walletID); err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return nil
			}
			return err
		}
		computed, err := balancesAt(ctx, transactionStore, walletID, service.nowFn())
		if err != nil {
			return err
		}
		balances = computed
		return nil
	})
	if err != nil {
		return Balances{}, err
	}
	return balances, nil
}

// InsertLedgerEntry appends a credit or debit. Inserting the same
// (wallet, idempotency key) twice is a no-op that returns the original
// entry's id. This is the only way entries are recorded outside of hold
// capture.
func (service *Service) InsertLedgerEntry(ctx context.Context, orgID OrgID, walletID WalletID, direction EntryDirection, amount AmountCents, reason EntryReason, reference Reference, idempotencyKey IdempotencyKey) (EntryID, error) {
	entryInput, validationError := NewEntryInput(orgID, walletID, direction, amount, reason, reference, idempotencyKey, service.nowFn())
	if validationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation:      operationInsertEntry,
			OrgID:          orgID,
			WalletID:       walletID,
			AmountCents:    amount.Int64(),
			IdempotencyKey: idempotencyKey,
			Error:          validationError,
		})
		return EntryID{}, validationError
	}
	var entryID EntryID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRecord, err := transactionStore.GetWallet(ctx, orgID, walletID)
		if err != nil {
			return err
		}
		if direction == DirectionDebit && walletRecord.Status == WalletStatusFrozen {
			return ErrWalletFrozen
		}
		insertedID, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		entryID = insertedID
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationInsertEntry,
		OrgID:          orgID,
		WalletID:       walletID,
		AmountCents:    amount.Int64(),
		IdempotencyKey: idempotencyKey,
		Error:          operationError,
	})
	if operationError != nil {
		return EntryID{}, operationError
	}
	return entryID, nil
}

// CreateHold reserves funds against a wallet. The available-balance check
// runs inside the same transaction as the insert, so concurrent holds cannot
// jointly overdraw the wallet.
func (service *Service) CreateHold(ctx context.Context, orgID OrgID, walletID WalletID, provider Provider, orderID OrderID, amount AmountCents, ttlSeconds int64) (Hold, error) {
	if ttlSeconds <= 0 {
		validationError := fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidHoldTTL)
		service.logOperation(ctx, OperationLog{
			Operation:   operationCreateHold,
			OrgID:       orgID,
			WalletID:    walletID,
			AmountCents: amount.Int64(),
			Error:       validationError,
		})
		return Hold{}, validationError
	}
	var hold Hold
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRecord, err := transactionStore.GetWallet(ctx, orgID, walletID)
		if err != nil {
			return err
		}
		if walletRecord.Status == WalletStatusFrozen {
			return ErrWalletFrozen
		}
		nowUnixUTC := service.nowFn()
		balances, err := balancesAt(ctx, transactionStore, walletID, nowUnixUTC)
		if err != nil {
			return err
		}
		if balances.AvailableCents < amount.Int64() {
			return ErrInsufficientFunds
		}
		expiresUnixUTC := nowUnixUTC + ttlSeconds
		holdID, err := transactionStore.CreateHold(ctx, orgID, walletID, provider, orderID, amount, expiresUnixUTC, nowUnixUTC)
		if err != nil {
			return err
		}
		hold, err = NewHold(holdID, orgID, walletID, provider, orderID, amount, HoldStatusActive, expiresUnixUTC, nowUnixUTC)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationCreateHold,
		OrgID:       orgID,
		WalletID:    walletID,
		HoldID:      hold.HoldID(),
		AmountCents: amount.Int64(),
		Error:       operationError,
	})
	if operationError != nil {
		return Hold{}, operationError
	}
	return hold, nil
}

// CaptureHold realizes a hold as a permanent debit. The hold row is locked
// for the duration of the transaction, so two concurrent captures serialize:
// the second observes a terminal status and fails with ErrHoldNotActive
// instead of double-debiting. An overdue active hold is moved to expired and
// reported as ErrHoldNotActive.
func (service *Service) CaptureHold(ctx context.Context, orgID OrgID, holdID HoldID, idempotencyKey IdempotencyKey) (CaptureResult, error) {
	var result CaptureResult
	var conflictError error
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		hold, err := transactionStore.GetHoldForUpdate(ctx, orgID, holdID)
		if err != nil {
			return err
		}
		result.WalletID = hold.WalletID()
		nowUnixUTC := service.nowFn()
		if hold.Status() == HoldStatusActive && hold.ExpiredAt(nowUnixUTC) {
			// Commit the lazy expiry even though the capture fails.
			if err := transactionStore.UpdateHoldStatus(ctx, orgID, holdID, HoldStatusActive, HoldStatusExpired); err != nil {
				return err
			}
			conflictError = ErrHoldNotActive
			return nil
		}
		if hold.Status() != HoldStatusActive {
			conflictError = ErrHoldNotActive
			return nil
		}
		reference, err := NewCaptureReference(holdID, hold.Provider(), hold.OrderID())
		if err != nil {
			return err
		}
		entryInput, err := NewEntryInput(orgID, hold.WalletID(), DirectionDebit, hold.AmountCents(), ReasonCapture, reference, idempotencyKey, nowUnixUTC)
		if err != nil {
			return err
		}
		entryID, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateHoldStatus(ctx, orgID, holdID, HoldStatusActive, HoldStatusCaptured); err != nil {
			return err
		}
		result.EntryID = entryID
		return nil
	})
	if operationError == nil {
		operationError = conflictError
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationCaptureHold,
		OrgID:          orgID,
		WalletID:       result.WalletID,
		HoldID:         holdID,
		IdempotencyKey: idempotencyKey,
		Error:          operationError,
	})
	if operationError != nil {
		return CaptureResult{}, operationError
	}
	balances, err := service.Balances(ctx, orgID, result.WalletID)
	if err != nil {
		return CaptureResult{}, err
	}
	result.Balances = balances
	return result, nil
}

// ReleaseHold cancels a hold without debiting. Releasing an already-terminal
// hold reports Changed=false and is not an error; an overdue active hold is
// expired instead of released, also reporting Changed=false.
func (service *Service) ReleaseHold(ctx context.Context, orgID OrgID, holdID HoldID) (ReleaseResult, error) {
	var result ReleaseResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		hold, err := transactionStore.GetHoldForUpdate(ctx, orgID, holdID)
		if err != nil {
			return err
		}
		result.WalletID = hold.WalletID()
		nowUnixUTC := service.nowFn()
		switch {
		case hold.Status() == HoldStatusActive && hold.ExpiredAt(nowUnixUTC):
			if err := transactionStore.UpdateHoldStatus(ctx, orgID, holdID, HoldStatusActive, HoldStatusExpired); err != nil {
				return err
			}
			result.Changed = false
		case hold.Status() == HoldStatusActive:
			if err := transactionStore.UpdateHoldStatus(ctx, orgID, holdID, HoldStatusActive, HoldStatusReleased); err != nil {
				return err
			}
			result.Changed = true
		default:
			result.Changed = false
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReleaseHold,
		OrgID:     orgID,
		WalletID:  result.WalletID,
		HoldID:    holdID,
		Error:     operationError,
	})
	if operationError != nil {
		return ReleaseResult{}, operationError
	}
	balances, err := service.Balances(ctx, orgID, result.WalletID)
	if err != nil {
		return ReleaseResult{}, err
	}
	result.Balances = balances
	return result, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func balancesAt(ctx context.Context, store Store, walletID WalletID, nowUnixUTC int64) (Balances, error) {
	credits, err := store.SumEntries(ctx, walletID, DirectionCredit)
	if err != nil {
		return Balances{}, err
	}
	debits, err := store.SumEntries(ctx, walletID, DirectionDebit)
	if err != nil {
		return Balances{}, err
	}
	onHold, err := store.SumActiveHolds(ctx, walletID, nowUnixUTC)
	if err != nil {
		return Balances{}, err
	}
	return Balances{
		AvailableCents: credits - debits - onHold,
		OnHoldCents:    onHold,
		BalanceCents:   credits - debits,
	}, nil
}
