package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screen"
)

const testTenant = "tenant-001"

func newTestServer(t *testing.T) *Server {
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

	cfg := domain.DefaultConfig()
	cfg.Pipeline.OptimizerRoot = filepath.Join(dir, "optimizer")

	return NewServer(cfg.Server, repo, cache.NewLRUCache(100), nil, screens, cfg.Pipeline, "test")
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func seedApprovalTables(t *testing.T, srv *Server) {
	t.Helper()

	w := doJSON(t, srv, http.MethodPost, "/approval-matrix", MatrixRequest{
		Entries: []domain.MatrixEntry{
			{
				ID:     1,
				Min:    decimal.Zero,
				Max:    decimal.NewFromInt(100000),
				Levels: [domain.ApproverSlots]bool{true, false, false, false, false},
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("seed matrix failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/user-approvals", UserApprovalsRequest{
		Entries: []domain.UserApproval{
			{UserID: 42, Level: 1, Min: decimal.Zero, Max: decimal.NewFromInt(100000)},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("seed users failed: %d %s", w.Code, w.Body.String())
	}
}

func apLines() []domain.LineItem {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := func(doc, lineID, invoice string) domain.LineItem {
		return domain.LineItem{
			AccountDocID:  doc,
			LineID:        lineID,
			Amount:        decimal.NewFromFloat(1250.00),
			InvoiceNumber: invoice,
			InvoiceDate:   date,
			DueDate:       date.AddDate(0, 0, 30),
			CreditPeriod:  30,
			SupplierID:    "SUP-9",
			SupplierName:  "ACME INDUSTRIAL",
			PostedDate:    date.AddDate(0, 0, 2),
			EnteredDate:   date.AddDate(0, 0, 2),
			Approvers:     [domain.ApproverSlots]domain.UserRef{domain.User(42)},
			RuleFlags:     map[string]bool{domain.RuleNonPOInvoice: true},
			RiskScore:     0.7,
		}
	}
	return []domain.LineItem{
		line("DOC-1", "L1", "INV-001"),
		line("DOC-1", "L2", "INV-001A"),
		line("DOC-2", "L1", "INV-777"),
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

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("expected version test, got %s", body["version"])
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/batches", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant header, got %d", w.Code)
	}
}

func TestEvaluateBatch(t *testing.T) {
	srv := newTestServer(t)
	seedApprovalTables(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/batches/evaluate", EvaluateRequest{
		BatchID:     "batch-001",
		RuleColumns: []string{domain.RuleNonPOInvoice},
		Lines:       rawLines(t, apLines()),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}

	if resp.Status != domain.StatusDone {
		t.Errorf("expected status DONE, got %s", resp.Status)
	}
	if resp.State != "DONE" {
		t.Errorf("expected state DONE, got %s", resp.State)
	}
	if resp.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", resp.Rows)
	}
	if resp.Documents != 2 {
		t.Errorf("expected 2 documents, got %d", resp.Documents)
	}
	if resp.Mode != "APPROVAL_MATRIX" {
		t.Errorf("expected APPROVAL_MATRIX mode, got %s", resp.Mode)
	}
	if resp.ResultID == "" {
		t.Error("expected a result id")
	}

	// The persisted result is retrievable.
	w = doJSON(t, srv, http.MethodGet, "/batches/"+resp.ResultID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching result, got %d: %s", w.Code, w.Body.String())
	}

	var stored domain.BatchResult
	if err := json.Unmarshal(w.Body.Bytes(), &stored); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if stored.BatchID != "batch-001" {
		t.Errorf("expected batch-001, got %s", stored.BatchID)
	}

	// And shows up in the recent listing.
	w = doJSON(t, srv, http.MethodGet, "/batches", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 listing results, got %d", w.Code)
	}
}

func TestEvaluateBatchModeOverride(t *testing.T) {
	srv := newTestServer(t)
	seedApprovalTables(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/batches/evaluate", EvaluateRequest{
		Mode:  "USER_MATRIX",
		Lines: rawLines(t, apLines()),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Mode != "USER_MATRIX" {
		t.Errorf("expected USER_MATRIX mode, got %s", resp.Mode)
	}
}

func TestEvaluateBatchUnknownMode(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/batches/evaluate", EvaluateRequest{
		Mode:  "BOGUS",
		Lines: rawLines(t, apLines()),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", w.Code)
	}
}

func TestEvaluateBatchSkipsMalformedLine(t *testing.T) {
	srv := newTestServer(t)
	seedApprovalTables(t, srv)

	lines := rawLines(t, apLines())
	lines = append(lines, json.RawMessage(`{"accountDocId":"DOC-9","amount":"not-a-number"}`))

	w := doJSON(t, srv, http.MethodPost, "/batches/evaluate", EvaluateRequest{Lines: lines})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Rows != 3 {
		t.Errorf("expected the 3 well-formed rows to score, got %d", resp.Rows)
	}
	if resp.Metadata.RowsSkipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", resp.Metadata.RowsSkipped)
	}
}

func TestEvaluateBatchSkipsMissingAccountDoc(t *testing.T) {
	srv := newTestServer(t)
	seedApprovalTables(t, srv)

	lines := apLines()
	lines[2].AccountDocID = ""

	w := doJSON(t, srv, http.MethodPost, "/batches/evaluate", EvaluateRequest{Lines: rawLines(t, lines)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Rows != 2 {
		t.Errorf("expected 2 rows after the skip, got %d", resp.Rows)
	}
	if resp.Metadata.RowsSkipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", resp.Metadata.RowsSkipped)
	}
}

func TestGetBatchResultNotFound(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/batches/no-such-result", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRuleWeightsRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	// Default weights are served before any are configured.
	w := doJSON(t, srv, http.MethodGet, "/rule-weights", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Weights domain.RuleWeights `json:"weights"`
		Source  string             `json:"source"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if got.Source != "default" {
		t.Errorf("expected default source, got %s", got.Source)
	}

	weights := domain.RuleWeights{
		{Rule: domain.RuleNonPOInvoice, Weight: 2},
		{Rule: domain.RuleLatePayment, Weight: 1},
	}
	w = doJSON(t, srv, http.MethodPut, "/rule-weights", WeightsRequest{Weights: weights})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 saving weights, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodGet, "/rule-weights", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if got.Source != "tenant" {
		t.Errorf("expected tenant source, got %s", got.Source)
	}
	if len(got.Weights) != 2 || got.Weights[0].Rule != domain.RuleNonPOInvoice {
		t.Errorf("weights did not round-trip in order: %+v", got.Weights)
	}
}

func TestRuleWeightsValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name    string
		weights domain.RuleWeights
	}{
		{"empty", nil},
		{"unknown rule", domain.RuleWeights{{Rule: "NOT_A_RULE", Weight: 1}}},
		{"duplicate rule", domain.RuleWeights{
			{Rule: domain.RuleLatePayment, Weight: 1},
			{Rule: domain.RuleLatePayment, Weight: 2},
		}},
		{"negative weight", domain.RuleWeights{{Rule: domain.RuleLatePayment, Weight: -1}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodPut, "/rule-weights", WeightsRequest{Weights: tc.weights})
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestScreenLifecycle(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/screens", domain.ScreenRule{
		Rule:       domain.RuleUnfavorablePaymentTerms,
		Expression: "credit_period < 15",
		Enabled:    true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Not loaded until reload.
	if srv.Handler().screens.Count() != 0 {
		t.Error("screen loaded before reload")
	}

	w = doJSON(t, srv, http.MethodPost, "/screens/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 reloading, got %d: %s", w.Code, w.Body.String())
	}
	if srv.Handler().screens.Count() != 1 {
		t.Errorf("expected 1 loaded screen, got %d", srv.Handler().screens.Count())
	}

	w = doJSON(t, srv, http.MethodGet, "/screens", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 listing, got %d", w.Code)
	}
	var listed struct {
		Count  int `json:"count"`
		Loaded int `json:"loaded"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if listed.Count != 1 || listed.Loaded != 1 {
		t.Errorf("expected 1/1 screens, got %d/%d", listed.Count, listed.Loaded)
	}
}

func TestScreenRejectsBadExpression(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/screens", domain.ScreenRule{
		Rule:       domain.RuleLatePayment,
		Expression: "credit_period <",
		Enabled:    true,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad CEL, got %d", w.Code)
	}
}

func TestApprovalMatrixValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/approval-matrix", MatrixRequest{
		Entries: []domain.MatrixEntry{
			{
				ID:  1,
				Min: decimal.NewFromInt(100),
				Max: decimal.NewFromInt(100),
			},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty bracket, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUserApprovalsValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/user-approvals", UserApprovalsRequest{
		Entries: []domain.UserApproval{
			{UserID: 7, Level: domain.ApproverSlots + 1},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range level, got %d", w.Code)
	}
}

func TestListBatchResultsBadSince(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/batches?since=%s", "yesterday"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", w.Code)
	}
}
