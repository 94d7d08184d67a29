package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestInsertLedgerEntryAppendsCredit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	entryID := mustCredit(test, service, store, 500, "credit-1")
	if entryID.String() == "" {
		test.Fatalf("expected an entry id")
	}
	if len(store.entries) != 1 {
		test.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Direction() != DirectionCredit || entry.Reason() != ReasonPurchase {
		test.Fatalf("unexpected entry %s/%s", entry.Direction(), entry.Reason())
	}
	if entry.CreatedUnixUTC() != 100 {
		test.Fatalf("expected clock timestamp, got %d", entry.CreatedUnixUTC())
	}
}

func TestInsertLedgerEntryReplayReturnsOriginalID(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	firstID := mustCredit(test, service, store, 500, "credit-1")
	secondID := mustCredit(test, service, store, 500, "credit-1")

	if firstID.String() != secondID.String() {
		test.Fatalf("expected replay to return %s, got %s", firstID.String(), secondID.String())
	}
	if len(store.entries) != 1 {
		test.Fatalf("replay must not append, got %d entries", len(store.entries))
	}
}

func TestInsertLedgerEntryUnknownWallet(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.walletExists = false
	service := mustNewService(test, store)

	_, err := service.InsertLedgerEntry(
		context.Background(),
		mustOrgID(test, orgIDValue),
		mustWalletID(test, walletIDValue),
		DirectionCredit,
		mustAmount(test, 100),
		ReasonPurchase,
		mustPurchaseReference(test),
		mustIdempotencyKey(test, idempotencyValue),
	)
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf(errorMismatchMessage, ErrWalletNotFound, err)
	}
}

func TestInsertLedgerEntryRejectsMismatchedReference(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	adjustment, err := NewAdjustmentReference("ops@example.com", "correction")
	if err != nil {
		test.Fatalf("adjustment reference: %v", err)
	}

	_, err = service.InsertLedgerEntry(
		context.Background(),
		store.wallet.OrgID,
		store.wallet.WalletID,
		DirectionCredit,
		mustAmount(test, 100),
		ReasonPurchase,
		adjustment,
		mustIdempotencyKey(test, idempotencyValue),
	)
	if !errors.Is(err, ErrReferenceMismatch) {
		test.Fatalf(errorMismatchMessage, ErrReferenceMismatch, err)
	}
}

func TestInsertLedgerEntryValidatesBeforeStoreAccess(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.withTxError = errStoreFailure
	service := mustNewService(test, store)
	adjustment, err := NewAdjustmentReference("ops@example.com", "correction")
	if err != nil {
		test.Fatalf("adjustment reference: %v", err)
	}

	_, err = service.InsertLedgerEntry(
		context.Background(),
		store.wallet.OrgID,
		store.wallet.WalletID,
		DirectionCredit,
		mustAmount(test, 100),
		ReasonPurchase,
		adjustment,
		mustIdempotencyKey(test, idempotencyValue),
	)
	if !errors.Is(err, ErrReferenceMismatch) {
		test.Fatalf(errorMismatchMessage, ErrReferenceMismatch, err)
	}
}

func TestFrozenWalletRejectsDebitsAndHolds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	mustCredit(test, service, store, 500, "credit-1")

	if err := service.SetWalletStatus(context.Background(), store.wallet.OrgID, store.wallet.WalletID, WalletStatusFrozen); err != nil {
		test.Fatalf("freeze: %v", err)
	}

	refund, err := NewRefundReference(mustProvider(test, providerValue), mustOrderID(test, orderIDValue), "chargeback")
	if err != nil {
		test.Fatalf("refund reference: %v", err)
	}
	_, err = service.InsertLedgerEntry(
		context.Background(),
		store.wallet.OrgID,
		store.wallet.WalletID,
		DirectionDebit,
		mustAmount(test, 100),
		ReasonRefund,
		refund,
		mustIdempotencyKey(test, "debit-frozen"),
	)
	if !errors.Is(err, ErrWalletFrozen) {
		test.Fatalf(errorMismatchMessage, ErrWalletFrozen, err)
	}

	_, err = service.CreateHold(
		context.Background(),
		store.wallet.OrgID,
		store.wallet.WalletID,
		mustProvider(test, providerValue),
		mustOrderID(test, orderIDValue),
		mustAmount(test, 100),
		3600,
	)
	if !errors.Is(err, ErrWalletFrozen) {
		test.Fatalf(errorMismatchMessage, ErrWalletFrozen, err)
	}

	// Credits still land while frozen.
	mustCredit(test, service, store, 50, "credit-frozen")
	balances, err := service.Balances(context.Background(), store.wallet.OrgID, store.wallet.WalletID)
	if err != nil {
		test.Fatalf("balances: %v", err)
	}
	if balances.BalanceCents != 550 {
		test.Fatalf("expected balance 550, got %d", balances.BalanceCents)
	}
}

func TestUnfreezeRestoresDebits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	mustCredit(test, service, store, 500, "credit-1")

	if err := service.SetWalletStatus(context.Background(), store.wallet.OrgID, store.wallet.WalletID, WalletStatusFrozen); err != nil {
		test.Fatalf("freeze: %v", err)
	}
	if err := service.SetWalletStatus(context.Background(), store.wallet.OrgID, store.wallet.WalletID, WalletStatusActive); err != nil {
		test.Fatalf("unfreeze: %v", err)
	}
	mustCreateHold(test, service, store, 100, 3600)
}

func TestBalancesUnknownWalletIsZero(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.walletExists = false
	service := mustNewService(test, store)

	balances, err := service.Balances(context.Background(), mustOrgID(test, orgIDValue), mustWalletID(test, walletIDValue))
	if err != nil {
		test.Fatalf("balances: %v", err)
	}
	if balances != (Balances{}) {
		test.Fatalf("expected zero balances, got %+v", balances)
	}
}

func TestEnsureWalletReturnsWallet(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	wallet, err := service.EnsureWallet(context.Background(), mustOrgID(test, orgIDValue), mustUserID(test, userIDValue))
	if err != nil {
		test.Fatalf("ensure wallet: %v", err)
	}
	if wallet.WalletID.String() != walletIDValue {
		test.Fatalf("unexpected wallet id %s", wallet.WalletID.String())
	}
	if wallet.Currency != CurrencyCode {
		test.Fatalf("unexpected currency %s", wallet.Currency)
	}
}

func TestListEntriesRequiresWallet(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.walletExists = false
	service := mustNewService(test, store)

	_, err := service.ListEntries(context.Background(), mustOrgID(test, orgIDValue), mustWalletID(test, walletIDValue), 0, 10)
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf(errorMismatchMessage, ErrWalletNotFound, err)
	}
}

func TestListEntriesReturnsRows(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.listRows = []Entry{{EntryID: "ent-1", WalletID: walletIDValue, Direction: DirectionCredit, AmountCents: 500}}
	service := mustNewService(test, store)

	entries, err := service.ListEntries(context.Background(), store.wallet.OrgID, store.wallet.WalletID, 0, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].EntryID != "ent-1" {
		test.Fatalf("unexpected entries %+v", entries)
	}
}

func TestExternalIdentityRoundTrip(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	orgID := mustOrgID(test, orgIDValue)
	provider := mustProvider(test, "telegram")

	_, found, err := service.FindUserIDByExternalIdentity(context.Background(), orgID, provider, "tg-42")
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if found {
		test.Fatalf("expected no mapping before upsert")
	}

	if err := service.UpsertExternalIdentity(context.Background(), orgID, mustUserID(test, userIDValue), provider, "tg-42", "a@example.com"); err != nil {
		test.Fatalf("upsert: %v", err)
	}
	userID, found, err := service.FindUserIDByExternalIdentity(context.Background(), orgID, provider, "tg-42")
	if err != nil {
		test.Fatalf("find after upsert: %v", err)
	}
	if !found || userID.String() != userIDValue {
		test.Fatalf("expected %s, got %s (found=%v)", userIDValue, userID.String(), found)
	}

	// Conflict refreshes the email but never repoints the user.
	if err := service.UpsertExternalIdentity(context.Background(), orgID, mustUserID(test, "user-other"), provider, "tg-42", "b@example.com"); err != nil {
		test.Fatalf("second upsert: %v", err)
	}
	userID, found, err = service.FindUserIDByExternalIdentity(context.Background(), orgID, provider, "tg-42")
	if err != nil {
		test.Fatalf("find after conflict: %v", err)
	}
	if !found || userID.String() != userIDValue {
		test.Fatalf("mapping repointed to %s", userID.String())
	}
}

func TestFindUserIDRejectsEmptyProviderUserID(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	_, _, err := service.FindUserIDByExternalIdentity(context.Background(), mustOrgID(test, orgIDValue), mustProvider(test, providerValue), "  ")
	if !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf(errorMismatchMessage, ErrInvalidUserID, err)
	}
}
