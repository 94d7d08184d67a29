package wallet

import (
	"context"
	"fmt"
	"testing"
)

const (
	orgIDValue       = "org-1"
	userIDValue      = "user-1"
	walletIDValue    = "wal-1"
	providerValue    = "storefront"
	orderIDValue     = "order-1"
	idempotencyValue = "idem-1"

	errorMismatchMessage = "expected %v, got %v"
)

type stubStore struct {
	wallet       Wallet
	walletExists bool
	holds        map[string]Hold
	entries      []EntryInput
	entryIDs     map[string]EntryID
	listRows     []Entry
	identities   map[string]ExternalIdentity
	nextHold     int
	nextEntry    int

	withTxError       error
	getWalletError    error
	insertEntryError  error
	sumEntriesError   error
	sumHoldsError     error
	createHoldError   error
	getHoldError      error
	updateHoldError   error
	expireHoldsError  error
	listEntriesError  error
	findIdentityError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		wallet: Wallet{
			WalletID:       mustWalletID(test, walletIDValue),
			OrgID:          mustOrgID(test, orgIDValue),
			UserID:         mustUserID(test, userIDValue),
			Currency:       CurrencyCode,
			Status:         WalletStatusActive,
			CreatedUnixUTC: 1,
			UpdatedUnixUTC: 1,
		},
		walletExists: true,
		holds:        make(map[string]Hold),
		entryIDs:     make(map[string]EntryID),
		identities:   make(map[string]ExternalIdentity),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.withTxError != nil {
		return store.withTxError
	}
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateWallet(ctx context.Context, orgID OrgID, userID UserID, currency string) (Wallet, error) {
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	store.walletExists = true
	return store.wallet, nil
}

func (store *stubStore) GetWallet(ctx context.Context, orgID OrgID, walletID WalletID) (Wallet, error) {
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	if !store.walletExists || walletID.String() != store.wallet.WalletID.String() {
		return Wallet{}, ErrWalletNotFound
	}
	return store.wallet, nil
}

func (store *stubStore) UpdateWalletStatus(ctx context.Context, orgID OrgID, walletID WalletID, status WalletStatus) error {
	if !store.walletExists {
		return ErrWalletNotFound
	}
	store.wallet.Status = status
	return nil
}

func (store *stubStore) InsertEntry(ctx context.Context, input EntryInput) (EntryID, error) {
	if store.insertEntryError != nil {
		return EntryID{}, store.insertEntryError
	}
	if existing, seen := store.entryIDs[input.IdempotencyKey().String()]; seen {
		return existing, nil
	}
	store.nextEntry++
	entryID, err := NewEntryID(fmt.Sprintf("ent-%d", store.nextEntry))
	if err != nil {
		return EntryID{}, err
	}
	store.entryIDs[input.IdempotencyKey().String()] = entryID
	store.entries = append(store.entries, input)
	return entryID, nil
}

func (store *stubStore) SumEntries(ctx context.Context, walletID WalletID, direction EntryDirection) (int64, error) {
	if store.sumEntriesError != nil {
		return 0, store.sumEntriesError
	}
	var sum int64
	for _, entry := range store.entries {
		if entry.Direction() == direction {
			sum += entry.AmountCents().Int64()
		}
	}
	return sum, nil
}

func (store *stubStore) SumActiveHolds(ctx context.Context, walletID WalletID, nowUnixUTC int64) (int64, error) {
	if store.sumHoldsError != nil {
		return 0, store.sumHoldsError
	}
	var sum int64
	for _, hold := range store.holds {
		if hold.Status() == HoldStatusActive && !hold.ExpiredAt(nowUnixUTC) {
			sum += hold.AmountCents().Int64()
		}
	}
	return sum, nil
}

func (store *stubStore) CreateHold(ctx context.Context, orgID OrgID, walletID WalletID, provider Provider, orderID OrderID, amount AmountCents, expiresUnixUTC int64, createdUnixUTC int64) (HoldID, error) {
	if store.createHoldError != nil {
		return HoldID{}, store.createHoldError
	}
	store.nextHold++
	holdID, err := NewHoldID(fmt.Sprintf("hold-%d", store.nextHold))
	if err != nil {
		return HoldID{}, err
	}
	hold, err := NewHold(holdID, orgID, walletID, provider, orderID, amount, HoldStatusActive, expiresUnixUTC, createdUnixUTC)
	if err != nil {
		return HoldID{}, err
	}
	store.holds[holdID.String()] = hold
	return holdID, nil
}

func (store *stubStore) GetHoldForUpdate(ctx context.Context, orgID OrgID, holdID HoldID) (Hold, error) {
	if store.getHoldError != nil {
		return Hold{}, store.getHoldError
	}
	hold, ok := store.holds[holdID.String()]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	return hold, nil
}

func (store *stubStore) UpdateHoldStatus(ctx context.Context, orgID OrgID, holdID HoldID, from, to HoldStatus) error {
	if store.updateHoldError != nil {
		return store.updateHoldError
	}
	hold, ok := store.holds[holdID.String()]
	if !ok {
		return ErrHoldNotFound
	}
	if hold.Status() != from {
		return ErrHoldNotActive
	}
	updated, err := NewHold(hold.HoldID(), hold.OrgID(), hold.WalletID(), hold.Provider(), hold.OrderID(), hold.AmountCents(), to, hold.ExpiresUnixUTC(), hold.CreatedUnixUTC())
	if err != nil {
		return err
	}
	store.holds[holdID.String()] = updated
	return nil
}

func (store *stubStore) FindActiveHoldByOrder(ctx context.Context, orgID OrgID, walletID WalletID, orderID OrderID, nowUnixUTC int64) (*Hold, error) {
	for _, hold := range store.holds {
		if hold.OrderID().String() == orderID.String() && hold.Status() == HoldStatusActive && !hold.ExpiredAt(nowUnixUTC) {
			found := hold
			return &found, nil
		}
	}
	return nil, nil
}

func (store *stubStore) ExpireHoldsDue(ctx context.Context, nowUnixUTC int64, limit int) (int64, error) {
	if store.expireHoldsError != nil {
		return 0, store.expireHoldsError
	}
	var expired int64
	for key, hold := range store.holds {
		if expired >= int64(limit) {
			break
		}
		if hold.Status() == HoldStatusActive && hold.ExpiredAt(nowUnixUTC) {
			updated, err := NewHold(hold.HoldID(), hold.OrgID(), hold.WalletID(), hold.Provider(), hold.OrderID(), hold.AmountCents(), HoldStatusExpired, hold.ExpiresUnixUTC(), hold.CreatedUnixUTC())
			if err != nil {
				return expired, err
			}
			store.holds[key] = updated
			expired++
		}
	}
	return expired, nil
}

func (store *stubStore) ListEntries(ctx context.Context, walletID WalletID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	return append([]Entry(nil), store.listRows...), nil
}

func (store *stubStore) FindExternalIdentity(ctx context.Context, orgID OrgID, provider Provider, providerUserID string) (ExternalIdentity, bool, error) {
	if store.findIdentityError != nil {
		return ExternalIdentity{}, false, store.findIdentityError
	}
	identity, ok := store.identities[provider.String()+"|"+providerUserID]
	return identity, ok, nil
}

func (store *stubStore) UpsertExternalIdentity(ctx context.Context, identity ExternalIdentity) error {
	key := identity.Provider + "|" + identity.ProviderUserID
	if existing, ok := store.identities[key]; ok {
		existing.Email = identity.Email
		store.identities[key] = existing
		return nil
	}
	store.identities[key] = identity
	return nil
}

func (store *stubStore) mustHold(test *testing.T, holdID HoldID) Hold {
	test.Helper()
	hold, ok := store.holds[holdID.String()]
	if !ok {
		test.Fatalf("hold %s not found", holdID.String())
	}
	return hold
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	return mustNewServiceAt(test, store, func() int64 { return 100 })
}

func mustNewServiceAt(test *testing.T, store Store, now func() int64) *Service {
	test.Helper()
	service, err := NewService(store, now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustOrgID(test *testing.T, raw string) OrgID {
	test.Helper()
	value, err := NewOrgID(raw)
	if err != nil {
		test.Fatalf("org id: %v", err)
	}
	return value
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustWalletID(test *testing.T, raw string) WalletID {
	test.Helper()
	value, err := NewWalletID(raw)
	if err != nil {
		test.Fatalf("wallet id: %v", err)
	}
	return value
}

func mustHoldID(test *testing.T, raw string) HoldID {
	test.Helper()
	value, err := NewHoldID(raw)
	if err != nil {
		test.Fatalf("hold id: %v", err)
	}
	return value
}

func mustProvider(test *testing.T, raw string) Provider {
	test.Helper()
	value, err := NewProvider(raw)
	if err != nil {
		test.Fatalf("provider: %v", err)
	}
	return value
}

func mustOrderID(test *testing.T, raw string) OrderID {
	test.Helper()
	value, err := NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw int64) AmountCents {
	test.Helper()
	value, err := NewAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustPurchaseReference(test *testing.T) Reference {
	test.Helper()
	reference, err := NewPurchaseReference(mustProvider(test, providerValue), mustOrderID(test, orderIDValue))
	if err != nil {
		test.Fatalf("purchase reference: %v", err)
	}
	return reference
}

func mustCredit(test *testing.T, service *Service, store *stubStore, amount int64, key string) EntryID {
	test.Helper()
	entryID, err := service.InsertLedgerEntry(
		context.Background(),
		store.wallet.OrgID,
		store.wallet.WalletID,
		DirectionCredit,
		mustAmount(test, amount),
		ReasonPurchase,
		mustPurchaseReference(test),
		mustIdempotencyKey(test, key),
	)
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	return entryID
}

func mustCreateHold(test *testing.T, service *Service, store *stubStore, amount int64, ttlSeconds int64) Hold {
	test.Helper()
	hold, err := service.CreateHold(
		context.Background(),
		store.wallet.OrgID,
		store.wallet.WalletID,
		mustProvider(test, providerValue),
		mustOrderID(test, orderIDValue),
		mustAmount(test, amount),
		ttlSeconds,
	)
	if err != nil {
		test.Fatalf("create hold: %v", err)
	}
	return hold
}
