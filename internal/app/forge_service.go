package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trivia-forge-service/internal/domain"
)

// Inventory is the collectible read model consulted during forge admission.
// Consume conditionally marks inputs as used by an operation and fails when
// any input is already consumed; Release undoes it for failed operations.
type Inventory interface {
	GetOwned(ctx context.Context, owner string, fingerprints []string) ([]domain.Collectible, error)
	Consume(ctx context.Context, operationID string, fingerprints []string) error
	Release(ctx context.Context, operationID string) error
	AddConfirmed(ctx context.Context, collectible *domain.Collectible) error
}

// ForgeRepo persists forge operations. UpdateStatus is conditional on the
// current status so a stale callback becomes a no-op failure.
type ForgeRepo interface {
	Create(ctx context.Context, op *domain.ForgeOperation) error
	Get(ctx context.Context, id string) (*domain.ForgeOperation, error)
	UpdateStatus(ctx context.Context, id string, from []domain.ForgeStatus, to domain.ForgeStatus, output string, now time.Time) error
}

// LedgerWriter is the external collaborator that performs the actual mint.
// The engine only hands off identifiers and later observes the resolution.
type LedgerWriter interface {
	SubmitForge(ctx context.Context, op *domain.ForgeOperation) error
}

// ForgeService validates combination requests per forge type and tracks the
// resulting operation through its pending→confirmed/failed life cycle.
type ForgeService struct {
	inventory Inventory
	ops       ForgeRepo
	ledger    LedgerWriter
	clock     func() time.Time
	logger    *slog.Logger
}

func NewForgeService(inventory Inventory, ops ForgeRepo, ledger LedgerWriter, logger *slog.Logger) *ForgeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForgeService{
		inventory: inventory,
		ops:       ops,
		ledger:    ledger,
		clock:     time.Now,
		logger:    logger,
	}
}

// WithClock is test-only.
func (f *ForgeService) WithClock(clock func() time.Time) *ForgeService {
	f.clock = clock
	return f
}

const (
	categoryForgeInputs = 10
	masterForgeInputs   = 10
	seasonForgePerCat   = 2
	seasonForgeMinCats  = 9
)

// Request runs admission for a forge request and, when every rule passes,
// consumes the inputs, records a pending operation and hands it to the
// ledger writer. Ownership is checked before any rule so non-owned inputs
// fail closed.
func (f *ForgeService) Request(ctx context.Context, req domain.ForgeRequest) (*domain.ForgeOperation, error) {
	if req.Identity == "" {
		return nil, &domain.RuleError{Rule: "ownership", Detail: "missing requesting identity"}
	}
	if len(req.Inputs) == 0 {
		return nil, &domain.RuleError{Rule: "inputs", Detail: "no inputs supplied"}
	}
	if dup := firstDuplicate(req.Inputs); dup != "" {
		return nil, &domain.RuleError{Rule: "inputs", Detail: "duplicate input " + dup}
	}

	owned, err := f.inventory.GetOwned(ctx, req.Identity, req.Inputs)
	if err != nil {
		return nil, err
	}
	byFingerprint := make(map[string]domain.Collectible, len(owned))
	for _, c := range owned {
		byFingerprint[c.Fingerprint] = c
	}
	inputs := make([]domain.Collectible, 0, len(req.Inputs))
	for _, fp := range req.Inputs {
		c, ok := byFingerprint[fp]
		if !ok {
			return nil, &domain.RuleError{Rule: "ownership", Detail: "input " + fp + " is not owned by requester"}
		}
		inputs = append(inputs, c)
	}

	if err := validateForgeRules(req, inputs); err != nil {
		return nil, err
	}

	now := f.clock()
	op := &domain.ForgeOperation{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Identity:  req.Identity,
		Inputs:    req.Inputs,
		Status:    domain.ForgePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Single-use-on-admission: the conditional consume is what arbitrates
	// two concurrent forges over overlapping inputs.
	if err := f.inventory.Consume(ctx, op.ID, req.Inputs); err != nil {
		return nil, err
	}
	if err := f.ops.Create(ctx, op); err != nil {
		if releaseErr := f.inventory.Release(ctx, op.ID); releaseErr != nil {
			f.logger.Warn("release inputs after create failure", "op", op.ID, "err", releaseErr)
		}
		return nil, err
	}

	if err := f.ledger.SubmitForge(ctx, op); err != nil {
		// Hand-off never happened, so the operation fails immediately and
		// the inputs go back into circulation.
		if failErr := f.ops.UpdateStatus(ctx, op.ID, []domain.ForgeStatus{domain.ForgePending}, domain.ForgeFailed, "", f.clock()); failErr != nil {
			f.logger.Warn("mark operation failed", "op", op.ID, "err", failErr)
		}
		if releaseErr := f.inventory.Release(ctx, op.ID); releaseErr != nil {
			f.logger.Warn("release inputs after submit failure", "op", op.ID, "err", releaseErr)
		}
		return nil, err
	}
	return op, nil
}

// GetOperation looks up a tracked operation.
func (f *ForgeService) GetOperation(ctx context.Context, id string) (*domain.ForgeOperation, error) {
	return f.ops.Get(ctx, id)
}

// ObserveResolution records a status transition reported by the ledger
// collaborator. The engine records transitions, it does not drive the write.
func (f *ForgeService) ObserveResolution(ctx context.Context, id string, outcome domain.ForgeStatus, output string) error {
	op, err := f.ops.Get(ctx, id)
	if err != nil {
		return err
	}

	var from []domain.ForgeStatus
	switch outcome {
	case domain.ForgeProcessing:
		from = []domain.ForgeStatus{domain.ForgePending}
	case domain.ForgeConfirmed, domain.ForgeFailed:
		from = []domain.ForgeStatus{domain.ForgePending, domain.ForgeProcessing}
	default:
		return domain.ErrInvalidTransition
	}
	if outcome == domain.ForgeConfirmed && output == "" {
		return fmt.Errorf("%w: confirmed without output reference", domain.ErrInvalidTransition)
	}

	now := f.clock()
	if err := f.ops.UpdateStatus(ctx, id, from, outcome, output, now); err != nil {
		return err
	}

	switch outcome {
	case domain.ForgeConfirmed:
		collectible := &domain.Collectible{
			Fingerprint: output,
			Owner:       op.Identity,
			Tier:        forgedTier(op.Type),
			State:       domain.CollectibleConfirmed,
		}
		if err := f.inventory.AddConfirmed(ctx, collectible); err != nil {
			return err
		}
	case domain.ForgeFailed:
		if err := f.inventory.Release(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// validateForgeRules runs the per-type admission rules over inputs whose
// ownership has already been proven.
func validateForgeRules(req domain.ForgeRequest, inputs []domain.Collectible) error {
	for _, c := range inputs {
		if c.State != domain.CollectibleConfirmed {
			return &domain.RuleError{Rule: "state", Detail: "input " + c.Fingerprint + " is not confirmed"}
		}
		if c.ConsumedBy != "" {
			return &domain.RuleError{Rule: "single-use", Detail: "input " + c.Fingerprint + " is already consumed"}
		}
	}

	switch req.Type {
	case domain.ForgeCategory:
		if len(inputs) != categoryForgeInputs {
			return &domain.RuleError{Rule: "input-count", Detail: fmt.Sprintf("category forge needs exactly %d inputs, got %d", categoryForgeInputs, len(inputs))}
		}
		category := inputs[0].Category
		if req.Category != "" {
			category = req.Category
		}
		for _, c := range inputs {
			if c.Category != category {
				return &domain.RuleError{Rule: "category", Detail: "input " + c.Fingerprint + " is not in category " + category}
			}
		}
	case domain.ForgeMaster:
		if len(inputs) != masterForgeInputs {
			return &domain.RuleError{Rule: "input-count", Detail: fmt.Sprintf("master forge needs exactly %d inputs, got %d", masterForgeInputs, len(inputs))}
		}
		for _, c := range inputs {
			if c.Tier != domain.TierUltimate {
				return &domain.RuleError{Rule: "tier", Detail: "input " + c.Fingerprint + " is not " + domain.TierUltimate + " tier"}
			}
		}
	case domain.ForgeSeason:
		if req.SeasonID == "" {
			return &domain.RuleError{Rule: "season", Detail: "missing season reference"}
		}
		perCategory := make(map[string]int)
		for _, c := range inputs {
			if c.SeasonID != req.SeasonID {
				return &domain.RuleError{Rule: "season", Detail: "input " + c.Fingerprint + " is not tagged with season " + req.SeasonID}
			}
			perCategory[c.Category]++
		}
		if len(perCategory) < seasonForgeMinCats {
			return &domain.RuleError{Rule: "category-spread", Detail: fmt.Sprintf("season forge needs %d distinct categories, got %d", seasonForgeMinCats, len(perCategory))}
		}
		for category, n := range perCategory {
			if n != seasonForgePerCat {
				return &domain.RuleError{Rule: "category-spread", Detail: fmt.Sprintf("category %s has %d inputs, needs exactly %d", category, n, seasonForgePerCat)}
			}
		}
	default:
		return &domain.RuleError{Rule: "type", Detail: "unknown forge type " + string(req.Type)}
	}
	return nil
}

func forgedTier(t domain.ForgeType) string {
	switch t {
	case domain.ForgeCategory:
		return domain.TierUltimate
	case domain.ForgeMaster:
		return "master"
	case domain.ForgeSeason:
		return "season"
	}
	return ""
}

func firstDuplicate(fingerprints []string) string {
	seen := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		if _, ok := seen[fp]; ok {
			return fp
		}
		seen[fp] = struct{}{}
	}
	return ""
}
