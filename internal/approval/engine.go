package approval

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates the approval-matrix rule over a batch in one of three
// modes. Reference tables are loaded under a lock and can be hot-reloaded
// between batches.
type Engine struct {
	mu     sync.RWMutex
	matrix *Matrix
	users  *Directory
}

// NewEngine creates an engine with empty reference tables.
func NewEngine() *Engine {
	return &Engine{
		matrix: NewMatrix(nil),
		users:  NewDirectory(nil),
	}
}

// LoadMatrix replaces the approval-matrix reference table.
func (e *Engine) LoadMatrix(entries []domain.MatrixEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matrix = NewMatrix(entries)
}

// LoadUsers replaces the user-approval reference table.
func (e *Engine) LoadUsers(entries []domain.UserApproval) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = NewDirectory(entries)
}

// MatrixCount returns the number of loaded brackets.
func (e *Engine) MatrixCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matrix.Len()
}

// UserCount returns the number of loaded user entries.
func (e *Engine) UserCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.users.Len()
}

// Evaluate produces the approval verdict column for a batch: 1 when at
// least one required check fails, 0 otherwise. An empty batch yields an
// empty column. Invalid modes classify as CONFIG_ERROR.
func (e *Engine) Evaluate(mode domain.ApprovalMode, batch *domain.Batch) ([]int64, error) {
	if !mode.Valid() {
		return nil, domain.Ef(domain.KindConfig, "approval.Evaluate", "approval mode %d out of range", mode)
	}

	e.mu.RLock()
	matrix := e.matrix
	users := e.users
	e.mu.RUnlock()

	verdicts := make([]int64, len(batch.Lines))
	for i := range batch.Lines {
		line := &batch.Lines[i]
		switch mode {
		case domain.ModeUser:
			verdicts[i] = userVerdict(users, line)
		case domain.ModeApproval:
			verdicts[i] = approvalVerdict(matrix, users, line)
		case domain.ModeMixed:
			// Flag only documents failing in both regimes.
			if userVerdict(users, line) == 1 && approvalVerdict(matrix, users, line) == 1 {
				verdicts[i] = 1
			}
		}
	}
	return verdicts, nil
}

// userVerdict checks that the amount lies within each observed approver's
// own limits. Empty approver slots are skipped, never flagged.
func userVerdict(users *Directory, line *domain.LineItem) int64 {
	for _, ref := range line.Approvers {
		if !ref.Valid {
			continue
		}
		u, ok := users.User(ref.ID)
		if !ok {
			// An approver missing from the reference table cannot have
			// their limits verified.
			return 1
		}
		if line.Amount.LessThan(u.Min) || line.Amount.GreaterThan(u.Max) {
			return 1
		}
	}
	return 0
}

// approvalVerdict resolves the amount bracket and checks that the
// bracket's required levels are a subset of the observed approver levels.
func approvalVerdict(matrix *Matrix, users *Directory, line *domain.LineItem) int64 {
	_, required, err := matrix.Bracket(line.Amount)
	if err != nil {
		return 1
	}

	observed := make(map[int]bool, domain.ApproverSlots)
	for _, ref := range line.Approvers {
		if !ref.Valid {
			continue
		}
		if u, ok := users.User(ref.ID); ok {
			observed[u.Level] = true
		}
	}

	for _, level := range required {
		if !observed[level] {
			return 1
		}
	}
	return 0
}
