package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/approval"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screen"
)

// GlobalTenantID is used for screening rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	screens *screen.Engine
	cfg     domain.PipelineConfig
	version string

	mu      sync.Mutex
	loaders map[string]*model.Loader
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, screens *screen.Engine, cfg domain.PipelineConfig, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		screens: screens,
		cfg:     cfg,
		version: version,
		loaders: make(map[string]*model.Loader),
	}
}

// loaderFor returns the tenant-scoped artifact loader, creating it on
// first use. Loaders memoize parsed artifacts per process.
func (h *Handler) loaderFor(tenantID string) *model.Loader {
	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.loaders[tenantID]; ok {
		return l
	}
	l := model.NewLoader(h.cfg.OptimizerRoot, tenantID, h.cache)
	h.loaders[tenantID] = l
	return l
}

// EvaluateRequest is the request body for POST /batches/evaluate.
// Lines stay raw so one malformed line skips that line, not the batch.
type EvaluateRequest struct {
	BatchID     string            `json:"batchId,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	RuleColumns []string          `json:"ruleColumns,omitempty"`
	Lines       []json.RawMessage `json:"lines"`
}

// EvaluateResponse is the response for POST /batches/evaluate.
type EvaluateResponse struct {
	ResultID  string                  `json:"resultId"`
	BatchID   string                  `json:"batchId"`
	State     string                  `json:"state"`
	Status    string                  `json:"status"`
	Mode      string                  `json:"mode"`
	Rows      int                     `json:"rows"`
	Documents int                     `json:"documents"`
	Alerts    int                     `json:"alerts"`
	MaxRisk   float64                 `json:"maxRisk"`
	Rollup    []domain.DocumentRollup `json:"rollup,omitempty"`
	Metadata  domain.BatchMetadata    `json:"metadata"`
}

// EvaluateBatch handles POST /batches/evaluate: it scores the batch
// synchronously, persists the result, and publishes scoring events.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	lines, dropped := domain.ParseLines(req.Lines)
	for _, derr := range dropped {
		slog.Warn("line skipped",
			"batch_id", req.BatchID,
			"kind", string(domain.KindOf(derr)),
			"error", derr,
		)
	}

	cfg := h.cfg
	if req.Mode != "" {
		mode, err := parseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		cfg.ApprovalMode = mode
	}

	// Tenant weight configuration overrides the server default.
	weights, err := h.repo.GetRuleWeights(ctx, tenantID)
	switch {
	case err == nil:
		cfg.Weights = weights
	case errors.Is(err, repository.ErrNotFound):
		// keep configured default
	default:
		slog.Error("failed to load rule weights", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule weights",
		})
		return
	}

	approvals, err := h.approvalEngine(r)
	if err != nil {
		slog.Error("failed to load approval tables", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load approval reference tables",
		})
		return
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	batch := &domain.Batch{
		ID:          batchID,
		TenantID:    tenantID,
		Lines:       lines,
		RuleColumns: req.RuleColumns,
		ReceivedAt:  time.Now().UTC(),
	}

	runner := pipeline.Build(ctx, cfg, h.screens, approvals, h.loaderFor(tenantID))
	out, runErr := runner.Run(ctx, batch)
	out.Result.Metadata.RowsSkipped += len(dropped)

	if h.cache != nil {
		if seq, err := h.cache.IncrementCounter(ctx, tenantID, "batch_seq", 0); err == nil {
			out.Result.Metadata.Sequence = seq
		}
	}

	// Persist the outcome in both the scored and failed shapes.
	if err := h.repo.SaveBatchResult(ctx, tenantID, out.Result); err != nil {
		slog.Error("failed to save batch result", "batch_id", batchID, "error", err)
	}

	if runErr != nil {
		status := http.StatusInternalServerError
		if domain.KindOf(runErr) == domain.KindConfig {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error":    runErr.Error(),
			"resultId": out.Result.ID,
			"state":    string(out.State),
		})
		return
	}

	h.publishScored(ctx, tenantID, out.Result)

	writeJSON(w, http.StatusOK, EvaluateResponse{
		ResultID:  out.Result.ID,
		BatchID:   batchID,
		State:     string(out.State),
		Status:    out.Result.Status,
		Mode:      out.Result.Mode,
		Rows:      out.Result.Rows,
		Documents: out.Result.Documents,
		Alerts:    out.Result.Alerts,
		MaxRisk:   out.Result.MaxRisk,
		Rollup:    out.Result.Rollup,
		Metadata:  out.Result.Metadata,
	})
}

// approvalEngine builds a tenant approval engine from the reference
// tables in the repository.
func (h *Handler) approvalEngine(r *http.Request) (*approval.Engine, error) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	matrix, err := h.repo.ListApprovalMatrix(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list approval matrix: %w", err)
	}
	users, err := h.repo.ListUserApprovals(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list user approvals: %w", err)
	}

	engine := approval.NewEngine()
	engine.LoadMatrix(matrix)
	engine.LoadUsers(users)
	return engine, nil
}

// publishScored emits the scored event, plus an alert event when any
// document deviated. Publishing is best effort.
func (h *Handler) publishScored(ctx context.Context, tenantID string, result *domain.BatchResult) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to marshal batch result", "result_id", result.ID, "error", err)
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchScored, payload); err != nil {
		slog.Warn("failed to publish scored event", "result_id", result.ID, "error", err)
	}
	if result.Alerts > 0 {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchAlert, payload); err != nil {
			slog.Warn("failed to publish alert event", "result_id", result.ID, "error", err)
		}
	}
}

func parseMode(s string) (domain.ApprovalMode, error) {
	switch s {
	case "USER_MATRIX":
		return domain.ModeUser, nil
	case "APPROVAL_MATRIX":
		return domain.ModeApproval, nil
	case "MIXED":
		return domain.ModeMixed, nil
	default:
		return 0, fmt.Errorf("unknown approval mode %q", s)
	}
}

// GetBatchResult retrieves a persisted batch result by ID.
func (h *Handler) GetBatchResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	resultID := chi.URLParam(r, "id")

	if resultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "result id is required",
		})
		return
	}

	result, err := h.repo.GetBatchResult(ctx, tenantID, resultID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get batch result", "id", resultID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "batch result not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListBatchResults lists recent batch results. The optional "since"
// query parameter is RFC 3339; the default window is 24 hours.
func (h *Handler) ListBatchResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		since = parsed
	}

	results, err := h.repo.ListBatchResults(ctx, tenantID, since)
	if err != nil {
		slog.Error("failed to list batch results", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list batch results",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// MatrixRequest is the request body for POST /approval-matrix.
type MatrixRequest struct {
	Entries []domain.MatrixEntry `json:"entries"`
}

// SaveApprovalMatrix replaces the tenant's approval matrix.
func (h *Handler) SaveApprovalMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req MatrixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	for i, entry := range req.Entries {
		if entry.Max.LessThanOrEqual(entry.Min) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("entries[%d]: max must be greater than min", i),
			})
			return
		}
		if len(entry.RequiredLevels()) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("entries[%d]: at least one approver level is required", i),
			})
			return
		}
	}

	if err := h.repo.SaveApprovalMatrix(ctx, tenantID, req.Entries); err != nil {
		slog.Error("failed to save approval matrix", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save approval matrix",
		})
		return
	}

	slog.Info("approval matrix saved", "tenant_id", tenantID, "entries", len(req.Entries))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "approval matrix saved",
		"count":   len(req.Entries),
	})
}

// GetApprovalMatrix returns the tenant's approval matrix.
func (h *Handler) GetApprovalMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	entries, err := h.repo.ListApprovalMatrix(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list approval matrix", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list approval matrix",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// UserApprovalsRequest is the request body for POST /user-approvals.
type UserApprovalsRequest struct {
	Entries []domain.UserApproval `json:"entries"`
}

// SaveUserApprovals replaces the tenant's user-approval table.
func (h *Handler) SaveUserApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req UserApprovalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	for i, entry := range req.Entries {
		if entry.UserID == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("entries[%d]: userId is required", i),
			})
			return
		}
		if entry.Level < 1 || entry.Level > domain.ApproverSlots {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("entries[%d]: level must be between 1 and %d", i, domain.ApproverSlots),
			})
			return
		}
	}

	if err := h.repo.SaveUserApprovals(ctx, tenantID, req.Entries); err != nil {
		slog.Error("failed to save user approvals", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save user approvals",
		})
		return
	}

	slog.Info("user approvals saved", "tenant_id", tenantID, "entries", len(req.Entries))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "user approvals saved",
		"count":   len(req.Entries),
	})
}

// GetUserApprovals returns the tenant's user-approval table.
func (h *Handler) GetUserApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	entries, err := h.repo.ListUserApprovals(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list user approvals", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list user approvals",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// WeightsRequest is the request body for PUT /rule-weights. Order is
// significant: deviation reporting enumerates rules in this order.
type WeightsRequest struct {
	Weights domain.RuleWeights `json:"weights"`
}

// SaveRuleWeights replaces the tenant's blending weights.
func (h *Handler) SaveRuleWeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req WeightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Weights) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one rule weight is required",
		})
		return
	}

	known := make(map[string]bool)
	for _, rule := range domain.AllRules() {
		known[rule] = true
	}
	seen := make(map[string]bool)
	for i, rw := range req.Weights {
		if !known[rw.Rule] {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("weights[%d]: unknown rule %q", i, rw.Rule),
			})
			return
		}
		if seen[rw.Rule] {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("weights[%d]: duplicate rule %q", i, rw.Rule),
			})
			return
		}
		if rw.Weight < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("weights[%d]: weight must not be negative", i),
			})
			return
		}
		seen[rw.Rule] = true
	}

	if err := h.repo.SaveRuleWeights(ctx, tenantID, req.Weights); err != nil {
		slog.Error("failed to save rule weights", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule weights",
		})
		return
	}

	slog.Info("rule weights saved", "tenant_id", tenantID, "rules", len(req.Weights))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rule weights saved",
		"count":   len(req.Weights),
	})
}

// GetRuleWeights returns the tenant's blending weights, falling back to
// the server default when none are configured.
func (h *Handler) GetRuleWeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	weights, err := h.repo.GetRuleWeights(ctx, tenantID)
	source := "tenant"
	if errors.Is(err, repository.ErrNotFound) {
		weights = h.cfg.Weights
		source = "default"
	} else if err != nil {
		slog.Error("failed to get rule weights", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule weights",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weights": weights,
		"source":  source,
	})
}

// CreateScreen validates and persists a screening rule. Screens are
// saved globally and hot-loaded via POST /screens/reload.
func (h *Handler) CreateScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.ScreenRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.Rule == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule and expression are required",
		})
		return
	}

	rule.TenantID = GlobalTenantID
	if err := h.screens.ValidateScreen(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid screen expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveScreenRule(ctx, GlobalTenantID, &rule); err != nil {
		slog.Error("failed to save screen rule", "rule", rule.Rule, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save screen rule",
		})
		return
	}

	slog.Info("screen rule created", "rule", rule.Rule)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"screen":  rule,
		"message": "Screen created. Call POST /screens/reload to apply changes.",
	})
}

// ListScreens returns the persisted screening rules.
func (h *Handler) ListScreens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rules, err := h.repo.ListScreenRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list screen rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list screen rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"screens": rules,
		"count":   len(rules),
		"loaded":  h.screens.Count(),
	})
}

// ReloadScreens reloads all screening rules from the database into the
// engine without a server restart.
func (h *Handler) ReloadScreens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.repo.ListScreenRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list screen rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load screen rules from database",
		})
		return
	}

	rules := make([]domain.ScreenRule, 0, len(stored))
	for _, rule := range stored {
		rules = append(rules, *rule)
	}

	if err := h.screens.LoadScreens(rules); err != nil {
		slog.Error("failed to reload screen rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload screens: " + err.Error(),
		})
		return
	}

	slog.Info("screen rules reloaded", "count", h.screens.Count())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "screens reloaded successfully",
		"count":   h.screens.Count(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
