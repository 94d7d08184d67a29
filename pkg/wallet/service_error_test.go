package wallet

import (
	"context"
	"errors"
	"testing"
)

var errStoreFailure = errors.New("store failure")

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
}

func TestBalancesReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
		wantErr   error
	}{
		{
			name:      "transaction error",
			configure: func(store *stubStore) { store.withTxError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "wallet lookup error",
			configure: func(store *stubStore) { store.getWalletError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "entry sum error",
			configure: func(store *stubStore) { store.sumEntriesError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "hold sum error",
			configure: func(store *stubStore) { store.sumHoldsError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.Balances(context.Background(), store.wallet.OrgID, store.wallet.WalletID)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestInsertLedgerEntryReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
		wantErr   error
	}{
		{
			name:      "wallet lookup error",
			configure: func(store *stubStore) { store.getWalletError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "insert error",
			configure: func(store *stubStore) { store.insertEntryError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.InsertLedgerEntry(
				context.Background(),
				store.wallet.OrgID,
				store.wallet.WalletID,
				DirectionCredit,
				mustAmount(test, 100),
				ReasonPurchase,
				mustPurchaseReference(test),
				mustIdempotencyKey(test, idempotencyValue),
			)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestCreateHoldReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
		wantErr   error
	}{
		{
			name:      "wallet lookup error",
			configure: func(store *stubStore) { store.getWalletError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "entry sum error",
			configure: func(store *stubStore) { store.sumEntriesError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "hold sum error",
			configure: func(store *stubStore) { store.sumHoldsError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "hold insert error",
			configure: func(store *stubStore) { store.createHoldError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store)
			mustCredit(test, service, store, 500, "seed")
			testCase.configure(store)

			_, err := service.CreateHold(
				context.Background(),
				store.wallet.OrgID,
				store.wallet.WalletID,
				mustProvider(test, providerValue),
				mustOrderID(test, orderIDValue),
				mustAmount(test, 100),
				3600,
			)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestCaptureHoldReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
		wantErr   error
	}{
		{
			name:      "hold lookup error",
			configure: func(store *stubStore) { store.getHoldError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "entry insert error",
			configure: func(store *stubStore) { store.insertEntryError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
		{
			name:      "status update error",
			configure: func(store *stubStore) { store.updateHoldError = errStoreFailure },
			wantErr:   errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store)
			mustCredit(test, service, store, 500, "seed")
			hold := mustCreateHold(test, service, store, 100, 3600)
			testCase.configure(store)

			_, err := service.CaptureHold(context.Background(), store.wallet.OrgID, hold.HoldID(), mustIdempotencyKey(test, "cap-1"))
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestExpireDueHoldsReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.expireHoldsError = errStoreFailure
	service := mustNewService(test, store)

	_, err := service.ExpireDueHolds(context.Background(), 10)
	if !errors.Is(err, errStoreFailure) {
		test.Fatalf(errorMismatchMessage, errStoreFailure, err)
	}
}

func TestOperationErrorExposesSegments(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("capture_hold", "hold", "conflict", ErrHoldNotActive)
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "capture_hold" || operationError.Subject() != "hold" || operationError.Code() != "conflict" {
		test.Fatalf("unexpected segments %s.%s.%s", operationError.Operation(), operationError.Subject(), operationError.Code())
	}
	if !errors.Is(wrapped, ErrHoldNotActive) {
		test.Fatalf("expected unwrap to ErrHoldNotActive")
	}
	if WrapError("op", "subject", "code", nil) != nil {
		test.Fatalf("wrapping nil must stay nil")
	}
}
