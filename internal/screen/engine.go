// Package screen provides the CEL-Go based screening engine that fills
// in rule-flag columns the ingestion layer did not provide. Screening
// expressions are configured per rule; a flag column delivered with the
// batch is never overwritten.
package screen

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// Engine compiles and evaluates screening expressions.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledScreen
}

// CompiledScreen holds a pre-compiled CEL program for one rule flag.
type CompiledScreen struct {
	Config  domain.ScreenRule
	Program cel.Program
}

// NewEngine creates a screening engine with the AP line variables bound.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("line", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("credit_period", cel.IntType),
		cel.Variable("supplier_id", cel.StringType),
		cel.Variable("supplier_name", cel.StringType),
		cel.Variable("invoice_number", cel.StringType),
		// Day gaps between the line's dates; zero when either side is unset.
		cel.Variable("days_posted_after_due", cel.DoubleType),
		cel.Variable("days_posted_after_invoice", cel.DoubleType),
		cel.Variable("days_entered_after_posted", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledScreen),
	}, nil
}

// ValidateScreen compiles an expression without loading it.
func (e *Engine) ValidateScreen(cfg domain.ScreenRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// LoadScreen compiles and loads one screening rule.
func (e *Engine) LoadScreen(cfg domain.ScreenRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}
	e.compiled[cfg.Rule] = compiled
	return nil
}

// LoadScreens compiles and loads the enabled screening rules, replacing
// the loaded set.
func (e *Engine) LoadScreens(configs []domain.ScreenRule) error {
	e.mu.Lock()
	e.compiled = make(map[string]*CompiledScreen)
	e.mu.Unlock()

	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadScreen(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count returns the number of loaded screens.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Engine) compile(cfg domain.ScreenRule) (*CompiledScreen, error) {
	if cfg.Rule == "" {
		return nil, fmt.Errorf("screen rule name is required")
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("screen %s: expression is required", cfg.Rule)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("screen %s: compile failed: %w", cfg.Rule, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("screen %s: program failed: %w", cfg.Rule, err)
	}
	return &CompiledScreen{Config: cfg, Program: program}, nil
}

// Apply fills in the flag for every loaded screen on every line whose
// batch did not already carry that rule column. Evaluation errors leave
// the flag unset. Lines posted more than horizonDays before the batch
// was received are outside the screening horizon and keep their flags
// unset; horizonDays <= 0 disables the bound.
func (e *Engine) Apply(batch *domain.Batch, horizonDays int) int {
	e.mu.RLock()
	screens := make([]*CompiledScreen, 0, len(e.compiled))
	for _, s := range e.compiled {
		screens = append(screens, s)
	}
	e.mu.RUnlock()

	var cutoff time.Time
	if horizonDays > 0 {
		ref := batch.ReceivedAt
		if ref.IsZero() {
			ref = time.Now().UTC()
		}
		cutoff = ref.AddDate(0, 0, -horizonDays)
	}

	filled := 0
	for _, s := range screens {
		rule := s.Config.Rule
		if batch.HasColumn(rule) {
			continue
		}

		for i := range batch.Lines {
			line := &batch.Lines[i]
			if horizonDays > 0 && !line.PostedDate.IsZero() && line.PostedDate.Before(cutoff) {
				continue
			}
			out, _, err := s.Program.Eval(activation(line))
			if err != nil {
				continue
			}
			if line.RuleFlags == nil {
				line.RuleFlags = make(map[string]bool)
			}
			line.RuleFlags[rule] = toBool(out)
		}

		batch.RuleColumns = append(batch.RuleColumns, rule)
		filled++
	}
	return filled
}

func activation(line *domain.LineItem) map[string]any {
	amount, _ := line.Amount.Float64()
	return map[string]any{
		"line": map[string]any{
			"doc_id":  line.AccountDocID,
			"line_id": line.LineID,
		},
		"amount":                    amount,
		"credit_period":             int64(line.CreditPeriod),
		"supplier_id":               line.SupplierID,
		"supplier_name":             line.SupplierName,
		"invoice_number":            line.InvoiceNumber,
		"days_posted_after_due":     feature.DayDiff(line.DueDate, line.PostedDate),
		"days_posted_after_invoice": feature.DayDiff(line.InvoiceDate, line.PostedDate),
		"days_entered_after_posted": feature.DayDiff(line.PostedDate, line.EnteredDate),
	}
}

func toBool(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) > 0
	case types.Int:
		return int64(v) > 0
	default:
		return false
	}
}
