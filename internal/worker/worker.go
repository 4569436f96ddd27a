// Package worker provides async batch scoring from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/approval"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screen"
)

// Worker scores ingested batches asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	cache   domain.Cache
	screens *screen.Engine
	cfg     domain.PipelineConfig

	subscriptions []domain.Subscription
	loaders       map[string]*model.Loader
	mu            sync.Mutex
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, screens *screen.Engine, cfg domain.PipelineConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		cache:   cache,
		screens: screens,
		cfg:     cfg,
		loaders: make(map[string]*model.Loader),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing batches for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes on a catch-all tenant. Messages carry
// their own tenant id in the envelope.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker subscribes for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage is the message payload for batch scoring. Lines stay raw
// so one malformed line skips that line, not the batch.
type BatchMessage struct {
	BatchID     string            `json:"batchId"`
	TenantID    string            `json:"tenantId"`
	RuleColumns []string          `json:"ruleColumns,omitempty"`
	Lines       []json.RawMessage `json:"lines"`
}

// processBatch runs one ingested batch through the scoring pipeline,
// persists the result, and publishes the scored and alert events.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if batchMsg.TenantID != "" {
		tenantID = batchMsg.TenantID
	}

	batchID := batchMsg.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	lines, dropped := domain.ParseLines(batchMsg.Lines)
	for _, derr := range dropped {
		slog.Warn("line skipped",
			"batch_id", batchID,
			"kind", string(domain.KindOf(derr)),
			"error", derr,
		)
	}

	slog.Debug("processing batch",
		"batch_id", batchID,
		"tenant_id", tenantID,
		"rows", len(lines),
	)

	// Tenant weight configuration overrides the server default.
	cfg := w.cfg
	if weights, err := w.repo.GetRuleWeights(ctx, tenantID); err == nil {
		cfg.Weights = weights
	} else if !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to load rule weights",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	approvals, err := w.approvalEngine(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load approval tables",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	batch := &domain.Batch{
		ID:          batchID,
		TenantID:    tenantID,
		Lines:       lines,
		RuleColumns: batchMsg.RuleColumns,
		ReceivedAt:  time.Now().UTC(),
	}

	runner := pipeline.Build(ctx, cfg, w.screens, approvals, w.loaderFor(tenantID))
	out, runErr := runner.Run(ctx, batch)
	out.Result.Metadata.RowsSkipped += len(dropped)

	if seq, err := w.cache.IncrementCounter(ctx, tenantID, "batch_seq", 0); err == nil {
		out.Result.Metadata.Sequence = seq
	}

	if err := w.repo.SaveBatchResult(ctx, tenantID, out.Result); err != nil {
		slog.Error("failed to save batch result",
			"batch_id", batchID,
			"error", err,
		)
	}

	if runErr != nil {
		return runErr
	}

	resultPayload, _ := json.Marshal(out.Result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicBatchScored, resultPayload); err != nil {
		slog.Error("failed to publish scored event",
			"batch_id", batchID,
			"error", err,
		)
	}

	if out.Result.Alerts > 0 {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicBatchAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert event",
				"batch_id", batchID,
				"error", err,
			)
		}
	}

	slog.Info("batch processed",
		"batch_id", batchID,
		"tenant_id", tenantID,
		"status", out.Result.Status,
		"documents", out.Result.Documents,
		"alerts", out.Result.Alerts,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// approvalEngine builds the tenant approval engine from the repository
// reference tables.
func (w *Worker) approvalEngine(ctx context.Context, tenantID string) (*approval.Engine, error) {
	matrix, err := w.repo.ListApprovalMatrix(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	users, err := w.repo.ListUserApprovals(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	engine := approval.NewEngine()
	engine.LoadMatrix(matrix)
	engine.LoadUsers(users)
	return engine, nil
}

// loaderFor returns the tenant-scoped artifact loader.
func (w *Worker) loaderFor(tenantID string) *model.Loader {
	w.mu.Lock()
	defer w.mu.Unlock()

	if l, ok := w.loaders[tenantID]; ok {
		return l
	}
	l := model.NewLoader(w.cfg.OptimizerRoot, tenantID, w.cache)
	w.loaders[tenantID] = l
	return l
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
