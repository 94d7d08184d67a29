package zaplogger

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationEmitsFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zap.InfoLevel)
	logger := New(zap.New(core))

	orgID, err := wallet.NewOrgID("org-1")
	if err != nil {
		test.Fatalf("org id: %v", err)
	}
	logger.LogOperation(context.Background(), wallet.OperationLog{
		Operation:   "create_hold",
		OrgID:       orgID,
		AmountCents: 200,
		Status:      "ok",
	})

	entries := recorded.All()
	if len(entries) != 1 {
		test.Fatalf("expected one record, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel {
		test.Fatalf("expected info level, got %s", entries[0].Level)
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "create_hold" || fields["org_id"] != "org-1" || fields["amount_cents"] != int64(200) {
		test.Fatalf("unexpected fields %+v", fields)
	}
}

func TestLogOperationFailureUsesWarnLevel(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zap.InfoLevel)
	logger := New(zap.New(core))

	logger.LogOperation(context.Background(), wallet.OperationLog{
		Operation: "capture_hold",
		Status:    "error",
		Error:     errors.New("boom"),
	})

	entries := recorded.All()
	if len(entries) != 1 {
		test.Fatalf("expected one record, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		test.Fatalf("expected warn level, got %s", entries[0].Level)
	}
}
