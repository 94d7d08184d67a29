package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OrgID identifies the tenant owning a wallet.
type OrgID struct {
	value string
}

// UserID identifies a wallet owner within a tenant.
type UserID struct {
	value string
}

// WalletID identifies a wallet row.
type WalletID struct {
	value string
}

// HoldID identifies a hold row.
type HoldID struct {
	value string
}

// EntryID identifies a ledger entry row.
type EntryID struct {
	value string
}

// Provider names the subsystem that originated an operation.
type Provider struct {
	value string
}

// OrderID identifies the external operation a hold reserves funds for.
type OrderID struct {
	value string
}

// IdempotencyKey scopes duplicate detection within a wallet.
type IdempotencyKey struct {
	value string
}

// AmountCents is a strictly positive integer amount in minor units.
type AmountCents int64

// NewOrgID validates and normalizes a tenant id.
func NewOrgID(raw string) (OrgID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrgID{}, fmt.Errorf("%w: empty value", ErrInvalidOrgID)
	}
	return OrgID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrgID) String() string {
	return id.value
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletID{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return WalletID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// NewHoldID validates and normalizes a hold id.
func NewHoldID(raw string) (HoldID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return HoldID{}, fmt.Errorf("%w: empty value", ErrInvalidHoldID)
	}
	return HoldID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id HoldID) String() string {
	return id.value
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// NewProvider validates and normalizes a provider name.
func NewProvider(raw string) (Provider, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Provider{}, fmt.Errorf("%w: empty value", ErrInvalidProvider)
	}
	return Provider{value: trimmed}, nil
}

// String returns the normalized provider name.
func (provider Provider) String() string {
	return provider.value
}

// NewOrderID validates and normalizes an external order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw minor-unit value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// WalletStatus defines the wallet lifecycle.
type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusFrozen WalletStatus = "frozen"
)

// ParseWalletStatus validates a stored wallet status.
func ParseWalletStatus(raw string) (WalletStatus, error) {
	switch WalletStatus(raw) {
	case WalletStatusActive, WalletStatusFrozen:
		return WalletStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWalletStatus, raw)
}

// String returns the stored representation.
func (status WalletStatus) String() string {
	return string(status)
}

// HoldStatus defines the hold lifecycle. A hold is created active and
// transitions exactly once into one of the terminal states.
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusCaptured HoldStatus = "captured"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusExpired  HoldStatus = "expired"
)

// ParseHoldStatus validates a stored hold status.
func ParseHoldStatus(raw string) (HoldStatus, error) {
	switch HoldStatus(raw) {
	case HoldStatusActive, HoldStatusCaptured, HoldStatusReleased, HoldStatusExpired:
		return HoldStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidHoldStatus, raw)
}

// String returns the stored representation.
func (status HoldStatus) String() string {
	return string(status)
}

// Terminal reports whether the status permits no further transitions.
func (status HoldStatus) Terminal() bool {
	return status != HoldStatusActive
}

// EntryDirection enumerates ledger entry directions.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// ParseEntryDirection validates a stored entry direction.
func ParseEntryDirection(raw string) (EntryDirection, error) {
	switch EntryDirection(raw) {
	case DirectionCredit, DirectionDebit:
		return EntryDirection(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryDirection, raw)
}

// String returns the stored representation.
func (direction EntryDirection) String() string {
	return string(direction)
}

// EntryReason enumerates why an entry was recorded.
type EntryReason string

const (
	ReasonPurchase         EntryReason = "purchase"
	ReasonCapture          EntryReason = "capture"
	ReasonManualAdjustment EntryReason = "manual_adjustment"
	ReasonRefund           EntryReason = "refund"
)

// ParseEntryReason validates a stored entry reason.
func ParseEntryReason(raw string) (EntryReason, error) {
	switch EntryReason(raw) {
	case ReasonPurchase, ReasonCapture, ReasonManualAdjustment, ReasonRefund:
		return EntryReason(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryReason, raw)
}

// String returns the stored representation.
func (reason EntryReason) String() string {
	return string(reason)
}

// ReferenceKind tags the shape of a reference payload.
type ReferenceKind string

const (
	ReferencePurchase   ReferenceKind = "purchase"
	ReferenceCapture    ReferenceKind = "capture"
	ReferenceAdjustment ReferenceKind = "adjustment"
	ReferenceRefund     ReferenceKind = "refund"
)

// Reference is the closed variant describing the operation behind a ledger
// entry. One constructor exists per entry reason so that every reason has a
// checked payload shape; the ledger stores it opaquely as JSON.
type Reference struct {
	kind     ReferenceKind
	provider string
	orderID  string
	holdID   string
	actor    string
	note     string
}

// NewPurchaseReference describes a credit purchased through a provider.
func NewPurchaseReference(provider Provider, orderID OrderID) (Reference, error) {
	if provider.value == "" {
		return Reference{}, fmt.Errorf("%w: purchase reference requires a provider", ErrInvalidReference)
	}
	if orderID.value == "" {
		return Reference{}, fmt.Errorf("%w: purchase reference requires an order id", ErrInvalidReference)
	}
	return Reference{kind: ReferencePurchase, provider: provider.value, orderID: orderID.value}, nil
}

// NewCaptureReference describes the hold a capture debit realizes.
func NewCaptureReference(holdID HoldID, provider Provider, orderID OrderID) (Reference, error) {
	if holdID.value == "" {
		return Reference{}, fmt.Errorf("%w: capture reference requires a hold id", ErrInvalidReference)
	}
	return Reference{kind: ReferenceCapture, holdID: holdID.value, provider: provider.value, orderID: orderID.value}, nil
}

// NewAdjustmentReference describes a manual balance correction.
func NewAdjustmentReference(actor string, note string) (Reference, error) {
	if strings.TrimSpace(actor) == "" {
		return Reference{}, fmt.Errorf("%w: adjustment reference requires an actor", ErrInvalidReference)
	}
	return Reference{kind: ReferenceAdjustment, actor: strings.TrimSpace(actor), note: strings.TrimSpace(note)}, nil
}

// NewRefundReference describes a refunded external operation.
func NewRefundReference(provider Provider, orderID OrderID, note string) (Reference, error) {
	if provider.value == "" {
		return Reference{}, fmt.Errorf("%w: refund reference requires a provider", ErrInvalidReference)
	}
	if orderID.value == "" {
		return Reference{}, fmt.Errorf("%w: refund reference requires an order id", ErrInvalidReference)
	}
	return Reference{kind: ReferenceRefund, provider: provider.value, orderID: orderID.value, note: strings.TrimSpace(note)}, nil
}

// Kind returns the variant tag.
func (reference Reference) Kind() ReferenceKind {
	return reference.kind
}

// MatchesReason reports whether the payload shape fits the entry reason.
func (reference Reference) MatchesReason(reason EntryReason) bool {
	switch reason {
	case ReasonPurchase:
		return reference.kind == ReferencePurchase
	case ReasonCapture:
		return reference.kind == ReferenceCapture
	case ReasonManualAdjustment:
		return reference.kind == ReferenceAdjustment
	case ReasonRefund:
		return reference.kind == ReferenceRefund
	}
	return false
}

type referencePayload struct {
	Kind     string `json:"kind"`
	Provider string `json:"provider,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
	HoldID   string `json:"hold_id,omitempty"`
	Actor    string `json:"actor,omitempty"`
	Note     string `json:"note,omitempty"`
}

// JSONString serializes the reference for storage.
func (reference Reference) JSONString() (string, error) {
	if reference.kind == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}
	raw, err := json.Marshal(referencePayload{
		Kind:     string(reference.kind),
		Provider: reference.provider,
		OrderID:  reference.orderID,
		HoldID:   reference.holdID,
		Actor:    reference.actor,
		Note:     reference.note,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return string(raw), nil
}

// ParseReferenceJSON deserializes a stored reference payload.
func ParseReferenceJSON(raw string) (Reference, error) {
	var payload referencePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	switch ReferenceKind(payload.Kind) {
	case ReferencePurchase, ReferenceCapture, ReferenceAdjustment, ReferenceRefund:
	default:
		return Reference{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, payload.Kind)
	}
	return Reference{
		kind:     ReferenceKind(payload.Kind),
		provider: payload.Provider,
		orderID:  payload.OrderID,
		holdID:   payload.HoldID,
		actor:    payload.Actor,
		note:     payload.Note,
	}, nil
}

// Wallet is the balance-holding identity for one (org, user, currency).
// Rows are created by the store and never deleted.
type Wallet struct {
	WalletID       WalletID
	OrgID          OrgID
	UserID         UserID
	Currency       string
	Status         WalletStatus
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Hold is a temporary reservation of funds pending capture or release.
type Hold struct {
	holdID         HoldID
	orgID          OrgID
	walletID       WalletID
	provider       Provider
	orderID        OrderID
	amountCents    AmountCents
	status         HoldStatus
	expiresUnixUTC int64
	createdUnixUTC int64
}

// NewHold validates a hold record.
func NewHold(holdID HoldID, orgID OrgID, walletID WalletID, provider Provider, orderID OrderID, amount AmountCents, status HoldStatus, expiresUnixUTC int64, createdUnixUTC int64) (Hold, error) {
	if holdID.value == "" {
		return Hold{}, fmt.Errorf("%w: empty value", ErrInvalidHoldID)
	}
	if orgID.value == "" {
		return Hold{}, fmt.Errorf("%w: empty value", ErrInvalidOrgID)
	}
	if walletID.value == "" {
		return Hold{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	if provider.value == "" {
		return Hold{}, fmt.Errorf("%w: empty value", ErrInvalidProvider)
	}
	if orderID.value == "" {
		return Hold{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	if amount <= 0 {
		return Hold{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if _, err := ParseHoldStatus(status.String()); err != nil {
		return Hold{}, err
	}
	return Hold{
		holdID:         holdID,
		orgID:          orgID,
		walletID:       walletID,
		provider:       provider,
		orderID:        orderID,
		amountCents:    amount,
		status:         status,
		expiresUnixUTC: expiresUnixUTC,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// HoldID returns the hold identifier.
func (hold Hold) HoldID() HoldID { return hold.holdID }

// OrgID returns the owning tenant.
func (hold Hold) OrgID() OrgID { return hold.orgID }

// WalletID returns the wallet the hold reserves against.
func (hold Hold) WalletID() WalletID { return hold.walletID }

// Provider returns the requesting subsystem.
func (hold Hold) Provider() Provider { return hold.provider }

// OrderID returns the external operation identifier.
func (hold Hold) OrderID() OrderID { return hold.orderID }

// AmountCents returns the reserved amount.
func (hold Hold) AmountCents() AmountCents { return hold.amountCents }

// Status returns the lifecycle state.
func (hold Hold) Status() HoldStatus { return hold.status }

// ExpiresUnixUTC returns the reservation deadline.
func (hold Hold) ExpiresUnixUTC() int64 { return hold.expiresUnixUTC }

// CreatedUnixUTC returns the creation time.
func (hold Hold) CreatedUnixUTC() int64 { return hold.createdUnixUTC }

// ExpiredAt reports whether the reservation deadline has passed.
func (hold Hold) ExpiredAt(nowUnixUTC int64) bool {
	return hold.expiresUnixUTC != 0 && hold.expiresUnixUTC <= nowUnixUTC
}

// EntryInput is a validated ledger entry awaiting insertion.
type EntryInput struct {
	orgID          OrgID
	walletID       WalletID
	direction      EntryDirection
	amountCents    AmountCents
	reason         EntryReason
	reference      Reference
	idempotencyKey IdempotencyKey
	createdUnixUTC int64
}

// NewEntryInput validates an entry before it reaches the store. The reference
// shape must match the reason.
func NewEntryInput(orgID OrgID, walletID WalletID, direction EntryDirection, amount AmountCents, reason EntryReason, reference Reference, idempotencyKey IdempotencyKey, createdUnixUTC int64) (EntryInput, error) {
	if orgID.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidOrgID)
	}
	if walletID.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	if _, err := ParseEntryDirection(direction.String()); err != nil {
		return EntryInput{}, err
	}
	if amount <= 0 {
		return EntryInput{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if _, err := ParseEntryReason(reason.String()); err != nil {
		return EntryInput{}, err
	}
	if !reference.MatchesReason(reason) {
		return EntryInput{}, fmt.Errorf("%w: %s reference does not fit reason %s", ErrReferenceMismatch, reference.kind, reason)
	}
	if idempotencyKey.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return EntryInput{
		orgID:          orgID,
		walletID:       walletID,
		direction:      direction,
		amountCents:    amount,
		reason:         reason,
		reference:      reference,
		idempotencyKey: idempotencyKey,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// OrgID returns the owning tenant.
func (input EntryInput) OrgID() OrgID { return input.orgID }

// WalletID returns the target wallet.
func (input EntryInput) WalletID() WalletID { return input.walletID }

// Direction returns credit or debit.
func (input EntryInput) Direction() EntryDirection { return input.direction }

// AmountCents returns the entry amount.
func (input EntryInput) AmountCents() AmountCents { return input.amountCents }

// Reason returns the entry reason.
func (input EntryInput) Reason() EntryReason { return input.reason }

// Reference returns the typed reference payload.
func (input EntryInput) Reference() Reference { return input.reference }

// IdempotencyKey returns the deduplication key.
func (input EntryInput) IdempotencyKey() IdempotencyKey { return input.idempotencyKey }

// CreatedUnixUTC returns the insertion timestamp.
func (input EntryInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Entry is a single immutable line in the ledger as read back from the store.
type Entry struct {
	EntryID        string
	WalletID       string
	Direction      EntryDirection
	AmountCents    int64
	Reason         EntryReason
	ReferenceJSON  string
	IdempotencyKey string
	CreatedUnixUTC int64
}

// ExternalIdentity maps a provider account to the internal user owning a
// wallet. It carries no balance state.
type ExternalIdentity struct {
	OrgID          string
	Provider       string
	ProviderUserID string
	UserID         string
	Email          string
}

// Balances is the derived view over the ledger and active holds.
type Balances struct {
	AvailableCents int64
	OnHoldCents    int64
	BalanceCents   int64
}

// CaptureResult reports a realized hold.
type CaptureResult struct {
	WalletID WalletID
	EntryID  EntryID
	Balances Balances
}

// ReleaseResult reports a release attempt. Changed is false when the hold was
// already terminal, which is a safe no-op rather than an error.
type ReleaseResult struct {
	Changed  bool
	WalletID WalletID
	Balances Balances
}

// Store is the persistence contract used by Service. Every mutating service
// operation runs inside WithTx; GetHoldForUpdate must take an exclusive row
// lock for the remainder of the transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateWallet(ctx context.Context, orgID OrgID, userID UserID, currency string) (Wallet, error)
	GetWallet(ctx context.Context, orgID OrgID, walletID WalletID) (Wallet, error)
	UpdateWalletStatus(ctx context.Context, orgID OrgID, walletID WalletID, status WalletStatus) error
	InsertEntry(ctx context.Context, input EntryInput) (EntryID, error)
	SumEntries(ctx context.Context, walletID WalletID, direction EntryDirection) (int64, error)
	SumActiveHolds(ctx context.Context, walletID WalletID, nowUnixUTC int64) (int64, error)
	CreateHold(ctx context.Context, orgID OrgID, walletID WalletID, provider Provider, orderID OrderID, amount AmountCents, expiresUnixUTC int64, createdUnixUTC int64) (HoldID, error)
	GetHoldForUpdate(ctx context.Context, orgID OrgID, holdID HoldID) (Hold, error)
	UpdateHoldStatus(ctx context.Context, orgID OrgID, holdID HoldID, from, to HoldStatus) error
	FindActiveHoldByOrder(ctx context.Context, orgID OrgID, walletID WalletID, orderID OrderID, nowUnixUTC int64) (*Hold, error)
	ExpireHoldsDue(ctx context.Context, nowUnixUTC int64, limit int) (int64, error)
	ListEntries(ctx context.Context, walletID WalletID, beforeUnixUTC int64, limit int) ([]Entry, error)
	FindExternalIdentity(ctx context.Context, orgID OrgID, provider Provider, providerUserID string) (ExternalIdentity, bool, error)
	UpsertExternalIdentity(ctx context.Context, identity ExternalIdentity) error
}
