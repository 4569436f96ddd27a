package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screen"
)

const testTenant = "tenant-001"

func newTestWorker(t *testing.T) (*Worker, *bus.ChannelBus, domain.Repository) {
	t.Helper()

	dir := t.TempDir()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	screens, err := screen.NewEngine()
	if err != nil {
		t.Fatalf("failed to create screen engine: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.DefaultConfig().Pipeline
	cfg.OptimizerRoot = filepath.Join(dir, "optimizer")

	w := NewWorker(eventBus, repo, cache.NewLRUCache(100), screens, cfg)
	t.Cleanup(func() { w.Stop() })
	return w, eventBus, repo
}

func seedApprovalTables(t *testing.T, repo domain.Repository) {
	t.Helper()
	ctx := context.Background()

	err := repo.SaveApprovalMatrix(ctx, testTenant, []domain.MatrixEntry{
		{
			ID:     1,
			Min:    decimal.Zero,
			Max:    decimal.NewFromInt(100000),
			Levels: [domain.ApproverSlots]bool{true},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed matrix: %v", err)
	}

	err = repo.SaveUserApprovals(ctx, testTenant, []domain.UserApproval{
		{UserID: 42, Level: 1, Min: decimal.Zero, Max: decimal.NewFromInt(100000)},
	})
	if err != nil {
		t.Fatalf("failed to seed users: %v", err)
	}
}

func testLines() []domain.LineItem {
	date := time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC)
	return []domain.LineItem{
		{
			AccountDocID:  "DOC-1",
			LineID:        "L1",
			Amount:        decimal.NewFromFloat(980.25),
			InvoiceNumber: "INV-4401",
			InvoiceDate:   date,
			DueDate:       date.AddDate(0, 0, 30),
			CreditPeriod:  30,
			SupplierID:    "SUP-3",
			SupplierName:  "NORTHWIND TRADERS",
			PostedDate:    date.AddDate(0, 0, 1),
			EnteredDate:   date.AddDate(0, 0, 1),
			Approvers:     [domain.ApproverSlots]domain.UserRef{domain.User(42)},
			RuleFlags:     map[string]bool{domain.RuleNonPOInvoice: true},
			RiskScore:     0.5,
		},
	}
}

func rawLines(t *testing.T, lines []domain.LineItem) []json.RawMessage {
	t.Helper()
	raw := make([]json.RawMessage, len(lines))
	for i := range lines {
		data, err := json.Marshal(lines[i])
		if err != nil {
			t.Fatalf("failed to marshal line: %v", err)
		}
		raw[i] = data
	}
	return raw
}

func TestWorkerProcessesIngestedBatch(t *testing.T) {
	w, eventBus, repo := newTestWorker(t)
	seedApprovalTables(t, repo)
	ctx := context.Background()

	if err := w.Start(Config{TenantIDs: []string{testTenant}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	scored := make(chan *domain.BatchResult, 1)
	_, err := eventBus.Subscribe(ctx, testTenant, domain.TopicBatchScored, func(ctx context.Context, msg *domain.Message) error {
		var result domain.BatchResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			return err
		}
		select {
		case scored <- &result:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(BatchMessage{
		BatchID:     "batch-async-001",
		TenantID:    testTenant,
		RuleColumns: []string{domain.RuleNonPOInvoice},
		Lines:       rawLines(t, testLines()),
	})
	if err := eventBus.Publish(ctx, testTenant, domain.TopicBatchIngested, payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	var result *domain.BatchResult
	select {
	case result = <-scored:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for scored event")
	}

	if result.BatchID != "batch-async-001" {
		t.Errorf("expected batch-async-001, got %s", result.BatchID)
	}
	if result.Status != domain.StatusDone {
		t.Errorf("expected DONE, got %s", result.Status)
	}
	if result.Rows != 1 || result.Documents != 1 {
		t.Errorf("expected 1 row and 1 document, got %d/%d", result.Rows, result.Documents)
	}

	// The result is also persisted.
	stored, err := repo.GetBatchResult(ctx, testTenant, result.ID)
	if err != nil {
		t.Fatalf("failed to fetch stored result: %v", err)
	}
	if stored.BatchID != result.BatchID {
		t.Errorf("stored result mismatch: %s", stored.BatchID)
	}
}

func TestWorkerRejectsMalformedPayload(t *testing.T) {
	w, _, _ := newTestWorker(t)

	err := w.processBatch(context.Background(), testTenant, &domain.Message{
		ID:      "msg-1",
		Payload: []byte("{not json"),
	})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestWorkerStats(t *testing.T) {
	w, _, _ := newTestWorker(t)

	if err := w.Start(Config{TenantIDs: []string{testTenant, "tenant-002"}}); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}
	for _, topic := range stats.Topics {
		if topic != domain.TopicBatchIngested {
			t.Errorf("unexpected topic %s", topic)
		}
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", got)
	}
}
