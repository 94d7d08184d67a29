package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the wallet service to internal callers over HTTP.
type Server struct {
	service *wallet.Service
	logger  *zap.Logger
	cfg     Config
}

// NewServer wires the HTTP surface.
func NewServer(service *wallet.Service, logger *zap.Logger, cfg Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{service: service, logger: logger, cfg: cfg}, nil
}

// Run serves the router until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	router, err := server.Router()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("wallet api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine with the caller gate applied to /v1.
func (server *Server) Router() (*gin.Engine, error) {
	gate, err := newCallerGate(server.cfg)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	api.Use(gate)

	api.POST("/wallets", server.handleEnsureWallet)
	api.GET("/wallets/:wallet_id/balances", server.handleBalances)
	api.POST("/wallets/:wallet_id/entries", server.handleInsertEntry)
	api.GET("/wallets/:wallet_id/entries", server.handleListEntries)
	api.POST("/wallets/:wallet_id/holds", server.handleCreateHold)
	api.GET("/wallets/:wallet_id/holds/active", server.handleFindActiveHold)
	api.PUT("/wallets/:wallet_id/status", server.handleSetWalletStatus)
	api.POST("/holds/:hold_id/capture", server.handleCaptureHold)
	api.POST("/holds/:hold_id/release", server.handleReleaseHold)
	api.POST("/identities", server.handleUpsertIdentity)
	api.GET("/identities/resolve", server.handleResolveIdentity)

	return router, nil
}

type ensureWalletRequest struct {
	UserID string `json:"user_id"`
}

func (server *Server) handleEnsureWallet(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	var request ensureWalletRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := wallet.NewUserID(request.UserID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	walletRecord, err := server.service.EnsureWallet(ctx.Request.Context(), orgID, userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": walletPayloadFrom(walletRecord)})
}

func (server *Server) handleBalances(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	balances, err := server.service.Balances(ctx.Request.Context(), orgID, walletID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balances": balancesPayloadFrom(balances)})
}

type insertEntryRequest struct {
	Direction      string `json:"direction"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Provider       string `json:"provider"`
	OrderID        string `json:"order_id"`
	Actor          string `json:"actor"`
	Note           string `json:"note"`
}

func (server *Server) handleInsertEntry(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request insertEntryRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	direction, err := wallet.ParseEntryDirection(request.Direction)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	reason, err := wallet.ParseEntryReason(request.Reason)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if reason == wallet.ReasonCapture {
		// Capture debits are written by the hold engine only.
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "capture entries are recorded via hold capture"))
		return
	}
	amount, err := server.parseAmount(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	reference, err := referenceFromRequest(reason, request)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	idempotencyKey, err := wallet.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	entryID, err := server.service.InsertLedgerEntry(ctx.Request.Context(), orgID, walletID, direction, amount, reason, reference, idempotencyKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	balances, err := server.service.Balances(ctx.Request.Context(), orgID, walletID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entry_id": entryID.String(),
		"balances": balancesPayloadFrom(balances),
	})
}

func (server *Server) handleListEntries(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	before, err := queryInt64(ctx, "before", 0)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "before must be a unix timestamp"))
		return
	}
	limit, err := queryInt64(ctx, "limit", defaultHistoryLimit)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be an integer"))
		return
	}
	entries, err := server.service.ListEntries(ctx.Request.Context(), orgID, walletID, before, int(limit))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayloadFrom(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

type createHoldRequest struct {
	Provider   string `json:"provider"`
	OrderID    string `json:"order_id"`
	Amount     string `json:"amount"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (server *Server) handleCreateHold(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request createHoldRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	provider, err := wallet.NewProvider(request.Provider)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	orderID, err := wallet.NewOrderID(request.OrderID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	amount, err := server.parseAmount(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	hold, err := server.service.CreateHold(ctx.Request.Context(), orgID, walletID, provider, orderID, amount, request.TTLSeconds)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"hold": holdPayloadFrom(hold)})
}

func (server *Server) handleFindActiveHold(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	orderID, err := wallet.NewOrderID(ctx.Query("order_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	hold, err := server.service.FindActiveHoldByOrder(ctx.Request.Context(), orgID, walletID, orderID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if hold == nil {
		ctx.JSON(http.StatusOK, gin.H{"hold": nil})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"hold": holdPayloadFrom(*hold)})
}

type captureHoldRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (server *Server) handleCaptureHold(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	holdID, err := wallet.NewHoldID(ctx.Param("hold_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request captureHoldRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	idempotencyKey, err := wallet.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	result, err := server.service.CaptureHold(ctx.Request.Context(), orgID, holdID, idempotencyKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet_id": result.WalletID.String(),
		"entry_id":  result.EntryID.String(),
		"balances":  balancesPayloadFrom(result.Balances),
	})
}

func (server *Server) handleReleaseHold(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	holdID, err := wallet.NewHoldID(ctx.Param("hold_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	result, err := server.service.ReleaseHold(ctx.Request.Context(), orgID, holdID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"changed":   result.Changed,
		"wallet_id": result.WalletID.String(),
		"balances":  balancesPayloadFrom(result.Balances),
	})
}

type setWalletStatusRequest struct {
	Status string `json:"status"`
}

func (server *Server) handleSetWalletStatus(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request setWalletStatusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	status, err := wallet.ParseWalletStatus(request.Status)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.service.SetWalletStatus(ctx.Request.Context(), orgID, walletID, status); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": status.String()})
}

type upsertIdentityRequest struct {
	UserID         string `json:"user_id"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
}

func (server *Server) handleUpsertIdentity(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	var request upsertIdentityRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := wallet.NewUserID(request.UserID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	provider, err := wallet.NewProvider(request.Provider)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.service.UpsertExternalIdentity(ctx.Request.Context(), orgID, userID, provider, request.ProviderUserID, request.Email); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleResolveIdentity(ctx *gin.Context) {
	orgID, ok := server.orgFromContext(ctx)
	if !ok {
		return
	}
	provider, err := wallet.NewProvider(ctx.Query("provider"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	userID, found, err := server.service.FindUserIDByExternalIdentity(ctx.Request.Context(), orgID, provider, ctx.Query("provider_user_id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, errorResponse("identity_not_found", "no mapping for provider user"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user_id": userID.String()})
}

func (server *Server) orgFromContext(ctx *gin.Context) (wallet.OrgID, bool) {
	orgID, err := wallet.NewOrgID(ctx.GetString(contextKeyOrgID))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing org scope"))
		return wallet.OrgID{}, false
	}
	return orgID, true
}

func (server *Server) parseAmount(raw string) (wallet.AmountCents, error) {
	minorUnits, err := wallet.ToMinorUnits(raw)
	if err != nil {
		return 0, err
	}
	return wallet.NewAmountCents(minorUnits)
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_funds", "available balance below requested amount"))
	case errors.Is(err, wallet.ErrWalletNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("wallet_not_found", "wallet does not exist"))
	case errors.Is(err, wallet.ErrHoldNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("hold_not_found", "hold does not exist"))
	case errors.Is(err, wallet.ErrHoldNotActive):
		ctx.JSON(http.StatusConflict, errorResponse("hold_not_active", "hold is not active"))
	case errors.Is(err, wallet.ErrWalletFrozen):
		ctx.JSON(http.StatusConflict, errorResponse("wallet_frozen", "wallet is frozen"))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		server.logger.Error("wallet operation failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("storage_error", "operation failed"))
	}
}

func isValidationError(err error) bool {
	validationErrors := []error{
		wallet.ErrInvalidOrgID,
		wallet.ErrInvalidUserID,
		wallet.ErrInvalidWalletID,
		wallet.ErrInvalidHoldID,
		wallet.ErrInvalidEntryID,
		wallet.ErrInvalidProvider,
		wallet.ErrInvalidOrderID,
		wallet.ErrInvalidIdempotencyKey,
		wallet.ErrInvalidAmountCents,
		wallet.ErrInvalidEntryDirection,
		wallet.ErrInvalidEntryReason,
		wallet.ErrInvalidWalletStatus,
		wallet.ErrInvalidHoldStatus,
		wallet.ErrInvalidHoldTTL,
		wallet.ErrInvalidReference,
		wallet.ErrReferenceMismatch,
		wallet.ErrInvalidDecimalAmount,
	}
	for _, validationError := range validationErrors {
		if errors.Is(err, validationError) {
			return true
		}
	}
	return false
}

func referenceFromRequest(reason wallet.EntryReason, request insertEntryRequest) (wallet.Reference, error) {
	switch reason {
	case wallet.ReasonPurchase:
		provider, err := wallet.NewProvider(request.Provider)
		if err != nil {
			return wallet.Reference{}, err
		}
		orderID, err := wallet.NewOrderID(request.OrderID)
		if err != nil {
			return wallet.Reference{}, err
		}
		return wallet.NewPurchaseReference(provider, orderID)
	case wallet.ReasonManualAdjustment:
		return wallet.NewAdjustmentReference(request.Actor, request.Note)
	case wallet.ReasonRefund:
		provider, err := wallet.NewProvider(request.Provider)
		if err != nil {
			return wallet.Reference{}, err
		}
		orderID, err := wallet.NewOrderID(request.OrderID)
		if err != nil {
			return wallet.Reference{}, err
		}
		return wallet.NewRefundReference(provider, orderID, request.Note)
	}
	return wallet.Reference{}, fmt.Errorf("%w: unsupported reason %s", wallet.ErrInvalidReference, reason)
}

func queryInt64(ctx *gin.Context, name string, fallback int64) (int64, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
