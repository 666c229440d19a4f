package memory

import (
	"context"
	"sync"
	"time"

	"trivia-forge-service/internal/domain"
)

// ForgeRepo stores forge operations with status-conditional updates.
type ForgeRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.ForgeOperation
}

func NewForgeRepo() *ForgeRepo {
	return &ForgeRepo{rows: make(map[string]*domain.ForgeOperation)}
}

func (r *ForgeRepo) Create(_ context.Context, op *domain.ForgeOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *op
	copied.Inputs = append([]string(nil), op.Inputs...)
	r.rows[op.ID] = &copied
	return nil
}

func (r *ForgeRepo) Get(_ context.Context, id string) (*domain.ForgeOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrOperationNotFound
	}
	copied := *op
	copied.Inputs = append([]string(nil), op.Inputs...)
	return &copied, nil
}

func (r *ForgeRepo) UpdateStatus(_ context.Context, id string, from []domain.ForgeStatus, to domain.ForgeStatus, output string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.rows[id]
	if !ok {
		return domain.ErrOperationNotFound
	}
	allowed := false
	for _, status := range from {
		if op.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ErrInvalidTransition
	}
	op.Status = to
	op.UpdatedAt = now
	if output != "" {
		op.Output = output
	}
	return nil
}

// Inventory is the in-memory collectible store. Consume is conditional: any
// input already marked consumed fails the whole call, which is what makes
// concurrent overlapping forges single-winner.
type Inventory struct {
	mu   sync.Mutex
	rows map[string]*domain.Collectible
}

func NewInventory() *Inventory {
	return &Inventory{rows: make(map[string]*domain.Collectible)}
}

// Add seeds a collectible; test and demo helper.
func (r *Inventory) Add(collectible domain.Collectible) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := collectible
	r.rows[collectible.Fingerprint] = &copied
}

func (r *Inventory) GetOwned(_ context.Context, owner string, fingerprints []string) ([]domain.Collectible, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Collectible, 0, len(fingerprints))
	for _, fp := range fingerprints {
		if c, ok := r.rows[fp]; ok && c.Owner == owner {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *Inventory) Consume(_ context.Context, operationID string, fingerprints []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fp := range fingerprints {
		c, ok := r.rows[fp]
		if !ok || c.State != domain.CollectibleConfirmed || c.ConsumedBy != "" {
			return &domain.RuleError{Rule: "single-use", Detail: "input " + fp + " is not available"}
		}
	}
	for _, fp := range fingerprints {
		r.rows[fp].ConsumedBy = operationID
	}
	return nil
}

func (r *Inventory) Release(_ context.Context, operationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.ConsumedBy == operationID {
			c.ConsumedBy = ""
		}
	}
	return nil
}

func (r *Inventory) AddConfirmed(_ context.Context, collectible *domain.Collectible) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *collectible
	r.rows[collectible.Fingerprint] = &copied
	return nil
}

// RecordingLedger is a LedgerWriter stand-in that remembers submissions; the
// memory wiring and the forge tests observe resolutions through it.
type RecordingLedger struct {
	mu        sync.Mutex
	submitted []string
	failNext  error
}

func NewRecordingLedger() *RecordingLedger {
	return &RecordingLedger{}
}

func (l *RecordingLedger) SubmitForge(_ context.Context, op *domain.ForgeOperation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return err
	}
	l.submitted = append(l.submitted, op.ID)
	return nil
}

// FailNext makes the next submission fail; test helper.
func (l *RecordingLedger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Submitted lists the handed-off operation ids.
func (l *RecordingLedger) Submitted() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.submitted...)
}
