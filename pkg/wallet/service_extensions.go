package wallet

import (
	"context"
	"fmt"
	"strings"
)

// FindActiveHoldByOrder looks up the unexpired active hold a provider placed
// for an order, if any. Providers use it to resume a checkout flow without
// double-holding.
func (service *Service) FindActiveHoldByOrder(ctx context.Context, orgID OrgID, walletID WalletID, orderID OrderID) (*Hold, error) {
	return service.store.FindActiveHoldByOrder(ctx, orgID, walletID, orderID, service.nowFn())
}

// ExpireDueHolds flips overdue active holds to expired, up to limit rows, and
// returns the number flipped. Callers run it on a timer; the lazy expiry in
// capture and release keeps correctness independent of sweep frequency.
func (service *Service) ExpireDueHolds(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultExpireBatchSize
	}
	expired, operationError := service.store.ExpireHoldsDue(ctx, service.nowFn(), limit)
	service.logOperation(ctx, OperationLog{
		Operation:   operationExpireHolds,
		AmountCents: expired,
		Error:       operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return expired, nil
}

// SetWalletStatus freezes or unfreezes a wallet. A frozen wallet still
// accepts credits and serves balance reads but rejects debits and new holds.
func (service *Service) SetWalletStatus(ctx context.Context, orgID OrgID, walletID WalletID, status WalletStatus) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.GetWallet(ctx, orgID, walletID); err != nil {
			return err
		}
		return transactionStore.UpdateWalletStatus(ctx, orgID, walletID, status)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetWalletStatus,
		OrgID:     orgID,
		WalletID:  walletID,
		Error:     operationError,
	})
	return operationError
}

// ListEntries returns ledger entries for a wallet, newest first. A zero
// beforeUnixUTC means "from the latest"; limit is clamped to the page cap.
func (service *Service) ListEntries(ctx context.Context, orgID OrgID, walletID WalletID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxEntryPageSize {
		limit = maxEntryPageSize
	}
	var entries []Entry
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.GetWallet(ctx, orgID, walletID); err != nil {
			return err
		}
		listed, err := transactionStore.ListEntries(ctx, walletID, beforeUnixUTC, limit)
		if err != nil {
			return err
		}
		entries = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindUserIDByExternalIdentity resolves a provider-scoped external account to
// the internal user id. The second return is false when no mapping exists.
func (service *Service) FindUserIDByExternalIdentity(ctx context.Context, orgID OrgID, provider Provider, providerUserID string) (UserID, bool, error) {
	if strings.TrimSpace(providerUserID) == "" {
		return UserID{}, false, fmt.Errorf("%w: provider user id is empty", ErrInvalidUserID)
	}
	identity, found, err := service.store.FindExternalIdentity(ctx, orgID, provider, providerUserID)
	if err != nil {
		return UserID{}, false, err
	}
	if !found {
		return UserID{}, false, nil
	}
	userID, err := NewUserID(identity.UserID)
	if err != nil {
		return UserID{}, false, err
	}
	return userID, true, nil
}

// UpsertExternalIdentity records the mapping from a provider account to an
// internal user. On conflict only the email is refreshed; the user mapping is
// never repointed once written.
func (service *Service) UpsertExternalIdentity(ctx context.Context, orgID OrgID, userID UserID, provider Provider, providerUserID string, email string) error {
	if strings.TrimSpace(providerUserID) == "" {
		return fmt.Errorf("%w: provider user id is empty", ErrInvalidUserID)
	}
	operationError := service.store.UpsertExternalIdentity(ctx, ExternalIdentity{
		OrgID:          orgID.String(),
		Provider:       provider.String(),
		ProviderUserID: strings.TrimSpace(providerUserID),
		UserID:         userID.String(),
		Email:          strings.TrimSpace(email),
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpsertIdentity,
		OrgID:     orgID,
		Error:     operationError,
	})
	return operationError
}
