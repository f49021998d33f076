package repository

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/unclebandit/campaign-batch-sender/internal/db"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// RecipientRepositoryInterface is a read-only view over the recipient
// population, keyed and ordered by a monotonically increasing ID.
type RecipientRepositoryInterface interface {
	MaxID(ctx context.Context) (int64, error)
	CountUpTo(ctx context.Context, maxID int64) (int, error)
	// Range returns recipients with afterID < id <= maxID, ascending, at most limit.
	Range(ctx context.Context, afterID, maxID int64, limit int) ([]model.Recipient, error)
	FindByIDs(ctx context.Context, ids []int64) ([]model.Recipient, error)
}

// RecipientSource names the table and columns recipients are read from.
type RecipientSource struct {
	Table       string
	IDColumn    string
	EmailColumn string
	NameColumn  string
}

func DefaultRecipientSource() RecipientSource {
	return RecipientSource{
		Table:       "recipients",
		IDColumn:    "id",
		EmailColumn: "email",
		NameColumn:  "display_name",
	}
}

type RecipientRepository struct {
	DB     *db.Client
	Source RecipientSource
}

func NewRecipientRepository(client *db.Client, source RecipientSource) *RecipientRepository {
	return &RecipientRepository{DB: client, Source: source}
}

func (r *RecipientRepository) columns() []any {
	return []any{
		goqu.C(r.Source.IDColumn).As("id"),
		goqu.C(r.Source.EmailColumn).As("email"),
		goqu.COALESCE(goqu.C(r.Source.NameColumn), "").As("display_name"),
	}
}

func (r *RecipientRepository) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	ds := goqu.From(r.Source.Table).
		Select(goqu.COALESCE(goqu.MAX(r.Source.IDColumn), 0))
	if err := r.DB.Get(ctx, &maxID, ds); err != nil {
		return 0, fmt.Errorf("error reading max recipient id: %w", err)
	}
	return maxID, nil
}

func (r *RecipientRepository) CountUpTo(ctx context.Context, maxID int64) (int, error) {
	var count int
	ds := goqu.From(r.Source.Table).
		Select(goqu.COUNT(r.Source.IDColumn)).
		Where(goqu.C(r.Source.IDColumn).Lte(maxID))
	if err := r.DB.Get(ctx, &count, ds); err != nil {
		return 0, fmt.Errorf("error counting recipients up to %d: %w", maxID, err)
	}
	return count, nil
}

func (r *RecipientRepository) Range(ctx context.Context, afterID, maxID int64, limit int) ([]model.Recipient, error) {
	recipients := []model.Recipient{}
	if limit <= 0 || afterID >= maxID {
		return recipients, nil
	}

	ds := goqu.From(r.Source.Table).
		Select(r.columns()...).
		Where(
			goqu.C(r.Source.IDColumn).Gt(afterID),
			goqu.C(r.Source.IDColumn).Lte(maxID),
		).
		Order(goqu.C(r.Source.IDColumn).Asc()).
		Limit(uint(limit))

	if err := r.DB.Select(ctx, &recipients, ds); err != nil {
		return nil, fmt.Errorf("error reading recipients after %d: %w", afterID, err)
	}
	return recipients, nil
}

func (r *RecipientRepository) FindByIDs(ctx context.Context, ids []int64) ([]model.Recipient, error) {
	recipients := []model.Recipient{}
	if len(ids) == 0 {
		return recipients, nil
	}

	ds := goqu.From(r.Source.Table).
		Select(r.columns()...).
		Where(goqu.C(r.Source.IDColumn).In(ids)).
		Order(goqu.C(r.Source.IDColumn).Asc())

	if err := r.DB.Select(ctx, &recipients, ds); err != nil {
		return nil, fmt.Errorf("error finding recipients by id: %w", err)
	}
	return recipients, nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
