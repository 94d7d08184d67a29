package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
)

// Response payloads carry both minor units and a decimal rendering so that
// callers never have to divide by the scale themselves.

type balancesPayload struct {
	AvailableCents int64  `json:"available_cents"`
	OnHoldCents    int64  `json:"on_hold_cents"`
	BalanceCents   int64  `json:"balance_cents"`
	Available      string `json:"available"`
	OnHold         string `json:"on_hold"`
	Balance        string `json:"balance"`
}

func balancesPayloadFrom(balances wallet.Balances) balancesPayload {
	return balancesPayload{
		AvailableCents: balances.AvailableCents,
		OnHoldCents:    balances.OnHoldCents,
		BalanceCents:   balances.BalanceCents,
		Available:      wallet.ToDecimalString(balances.AvailableCents),
		OnHold:         wallet.ToDecimalString(balances.OnHoldCents),
		Balance:        wallet.ToDecimalString(balances.BalanceCents),
	}
}

type walletPayload struct {
	WalletID       string `json:"wallet_id"`
	OrgID          string `json:"org_id"`
	UserID         string `json:"user_id"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

func walletPayloadFrom(record wallet.Wallet) walletPayload {
	return walletPayload{
		WalletID:       record.WalletID.String(),
		OrgID:          record.OrgID.String(),
		UserID:         record.UserID.String(),
		Currency:       record.Currency,
		Status:         record.Status.String(),
		CreatedUnixUTC: record.CreatedUnixUTC,
		UpdatedUnixUTC: record.UpdatedUnixUTC,
	}
}

type holdPayload struct {
	HoldID         string `json:"hold_id"`
	WalletID       string `json:"wallet_id"`
	Provider       string `json:"provider"`
	OrderID        string `json:"order_id"`
	AmountCents    int64  `json:"amount_cents"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	ExpiresUnixUTC int64  `json:"expires_unix_utc"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func holdPayloadFrom(hold wallet.Hold) holdPayload {
	return holdPayload{
		HoldID:         hold.HoldID().String(),
		WalletID:       hold.WalletID().String(),
		Provider:       hold.Provider().String(),
		OrderID:        hold.OrderID().String(),
		AmountCents:    hold.AmountCents().Int64(),
		Amount:         wallet.ToDecimalString(hold.AmountCents().Int64()),
		Status:         hold.Status().String(),
		ExpiresUnixUTC: hold.ExpiresUnixUTC(),
		CreatedUnixUTC: hold.CreatedUnixUTC(),
	}
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	WalletID       string          `json:"wallet_id"`
	Direction      string          `json:"direction"`
	AmountCents    int64           `json:"amount_cents"`
	Amount         string          `json:"amount"`
	Reason         string          `json:"reason"`
	Reference      json.RawMessage `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

func entryPayloadFrom(entry wallet.Entry) entryPayload {
	reference := json.RawMessage(entry.ReferenceJSON)
	if len(reference) == 0 {
		reference = json.RawMessage("null")
	}
	return entryPayload{
		EntryID:        entry.EntryID,
		WalletID:       entry.WalletID,
		Direction:      entry.Direction.String(),
		AmountCents:    entry.AmountCents,
		Amount:         wallet.ToDecimalString(entry.AmountCents),
		Reason:         entry.Reason.String(),
		Reference:      reference,
		IdempotencyKey: entry.IdempotencyKey,
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
}
