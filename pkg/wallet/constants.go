package wallet

// CurrencyCode is the single currency this service supports.
const CurrencyCode = "CRD"

const (
	operationEnsureWallet    = "ensure_wallet"
	operationInsertEntry     = "insert_entry"
	operationCreateHold      = "create_hold"
	operationCaptureHold     = "capture_hold"
	operationReleaseHold     = "release_hold"
	operationExpireHolds     = "expire_holds"
	operationSetWalletStatus = "set_wallet_status"
	operationUpsertIdentity  = "upsert_identity"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	minorUnitsPerCredit = 100

	defaultExpireBatchSize = 500
	maxEntryPageSize       = 100
)
