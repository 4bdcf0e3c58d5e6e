package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
)

const campaignColumns = `id, title, slug, description, is_active, created_at, updated_at`

type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts the campaign and its totals rows in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO campaigns (id, title, slug, description, is_active, created_at, updated_at)
		VALUES (:id, :title, :slug, :description, :is_active, :created_at, :updated_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
		if pqCode(err) == uniqueViolation {
			return errors.ErrCampaignAlreadyExists
		}
		return errors.Wrap(err, "failed to create campaign")
	}

	for _, t := range c.Totals {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO campaign_totals (campaign_id, currency, goal_amount, current_raised) VALUES ($1, $2, $3, $4)`,
			c.ID, t.Currency, t.GoalAmount, t.CurrentRaised,
		)
		if err != nil {
			return errors.Wrap(err, "failed to create campaign totals")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit campaign")
}

func (r *CampaignRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.GetContext(ctx, c, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrCampaignNotFound
		}
		return nil, errors.Wrap(err, "failed to find campaign by id")
	}
	return c, nil
}

func (r *CampaignRepository) FindBySlug(ctx context.Context, slug string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.GetContext(ctx, c, `SELECT `+campaignColumns+` FROM campaigns WHERE LOWER(slug) = LOWER($1)`, slug)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrCampaignNotFound
		}
		return nil, errors.Wrap(err, "failed to find campaign by slug")
	}
	return c, nil
}

func (r *CampaignRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM campaigns WHERE LOWER(slug) = LOWER($1))`, slug)
	return exists, errors.Wrap(err, "failed to check campaign slug")
}

func (r *CampaignRepository) ListActive(ctx context.Context, limit, offset int) ([]*domain.Campaign, error) {
	campaigns := []*domain.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE is_active = TRUE ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &campaigns, query, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list campaigns")
	}
	return campaigns, nil
}

func (r *CampaignRepository) Totals(ctx context.Context, campaignID uuid.UUID) ([]domain.CampaignTotal, error) {
	totals := []domain.CampaignTotal{}
	query := `SELECT campaign_id, currency, goal_amount, current_raised FROM campaign_totals WHERE campaign_id = $1 ORDER BY currency`
	if err := r.db.SelectContext(ctx, &totals, query, campaignID); err != nil {
		return nil, errors.Wrap(err, "failed to load campaign totals")
	}
	return totals, nil
}

// IncrementalTotals returns every stored totals row.
func (r *CampaignRepository) IncrementalTotals(ctx context.Context) ([]domain.CampaignTotal, error) {
	totals := []domain.CampaignTotal{}
	query := `SELECT campaign_id, currency, goal_amount, current_raised FROM campaign_totals`
	if err := r.db.SelectContext(ctx, &totals, query); err != nil {
		return nil, errors.Wrap(err, "failed to load campaign totals")
	}
	return totals, nil
}

// RecomputedTotals sums SUCCESS donations per campaign and currency.
func (r *CampaignRepository) RecomputedTotals(ctx context.Context) ([]domain.CampaignTotal, error) {
	totals := []domain.CampaignTotal{}
	query := `
		SELECT campaign_id, currency, 0 AS goal_amount, SUM(amount) AS current_raised
		FROM donations
		WHERE status = $1 AND campaign_id IS NOT NULL
		GROUP BY campaign_id, currency
	`
	if err := r.db.SelectContext(ctx, &totals, query, domain.DonationStatusSuccess); err != nil {
		return nil, errors.Wrap(err, "failed to recompute campaign totals")
	}
	return totals, nil
}
