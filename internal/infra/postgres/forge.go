package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"trivia-forge-service/internal/domain"
)

// ForgeRepo persists forge operations with status-conditional transitions.
type ForgeRepo struct {
	db *bun.DB
}

func NewForgeRepo(db *bun.DB) *ForgeRepo {
	return &ForgeRepo{db: db}
}

func (r *ForgeRepo) Create(ctx context.Context, op *domain.ForgeOperation) error {
	if _, err := r.db.NewInsert().Model(op).Exec(ctx); err != nil {
		return fmt.Errorf("create forge operation: %w", err)
	}
	return nil
}

func (r *ForgeRepo) Get(ctx context.Context, id string) (*domain.ForgeOperation, error) {
	op := new(domain.ForgeOperation)
	err := r.db.NewSelect().Model(op).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load forge operation: %w", err)
	}
	return op, nil
}

// UpdateStatus moves the operation to `to` only if it currently sits in one
// of the `from` statuses; a stale or duplicate callback affects zero rows.
func (r *ForgeRepo) UpdateStatus(ctx context.Context, id string, from []domain.ForgeStatus, to domain.ForgeStatus, output string, now time.Time) error {
	q := r.db.NewUpdate().
		Model((*domain.ForgeOperation)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from))
	if output != "" {
		q = q.Set("output = ?", output)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update forge status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update forge status: %w", err)
	}
	if affected == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Inventory is the Postgres collectible store. Consume marks every input in
// one conditional UPDATE inside a transaction; if any input is already
// consumed the whole transaction rolls back and admission fails.
type Inventory struct {
	db *bun.DB
}

func NewInventory(db *bun.DB) *Inventory {
	return &Inventory{db: db}
}

func (r *Inventory) GetOwned(ctx context.Context, owner string, fingerprints []string) ([]domain.Collectible, error) {
	var collectibles []domain.Collectible
	err := r.db.NewSelect().Model(&collectibles).
		Where("owner = ?", owner).
		Where("fingerprint IN (?)", bun.In(fingerprints)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collectibles: %w", err)
	}
	return collectibles, nil
}

func (r *Inventory) Consume(ctx context.Context, operationID string, fingerprints []string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*domain.Collectible)(nil)).
			Set("consumed_by = ?", operationID).
			Where("fingerprint IN (?)", bun.In(fingerprints)).
			Where("state = ?", domain.CollectibleConfirmed).
			Where("consumed_by = ''").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("consume inputs: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume inputs: %w", err)
		}
		if affected != int64(len(fingerprints)) {
			return &domain.RuleError{Rule: "single-use", Detail: "one or more inputs are already consumed"}
		}
		return nil
	})
}

func (r *Inventory) Release(ctx context.Context, operationID string) error {
	_, err := r.db.NewUpdate().
		Model((*domain.Collectible)(nil)).
		Set("consumed_by = ''").
		Where("consumed_by = ?", operationID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release inputs: %w", err)
	}
	return nil
}

func (r *Inventory) AddConfirmed(ctx context.Context, collectible *domain.Collectible) error {
	collectible.State = domain.CollectibleConfirmed
	_, err := r.db.NewInsert().Model(collectible).
		On("CONFLICT (fingerprint) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("add collectible: %w", err)
	}
	return nil
}
