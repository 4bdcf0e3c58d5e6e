package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"fundly/internal/reconcile"
	"fundly/pkg/domain"
	"fundly/pkg/errors"
)

const donationColumns = `id, campaign_id, amount, currency, gateway, transaction_reference, provider_reference,
	status, donor_name, donor_email, settled_at, created_at, updated_at`

type DonationRepository struct {
	db *sqlx.DB
}

func NewDonationRepository(db *sqlx.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) Create(ctx context.Context, d *domain.Donation) error {
	query := `
		INSERT INTO donations (
			id, campaign_id, amount, currency, gateway, transaction_reference, provider_reference,
			status, donor_name, donor_email, settled_at, created_at, updated_at
		) VALUES (
			:id, :campaign_id, :amount, :currency, :gateway, :transaction_reference, :provider_reference,
			:status, :donor_name, :donor_email, :settled_at, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, d)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return errors.ErrDonationAlreadyExists
		}
		if pqCode(err) == foreignKeyViolation {
			return errors.ErrCampaignNotFound
		}
		return errors.Wrap(err, "failed to create donation")
	}
	return nil
}

func (r *DonationRepository) FindByReference(ctx context.Context, ref string) (*domain.Donation, error) {
	d := &domain.Donation{}
	query := `SELECT ` + donationColumns + ` FROM donations WHERE transaction_reference = $1`
	err := r.db.GetContext(ctx, d, query, ref)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUnknownTransaction
		}
		return nil, errors.Wrap(err, "failed to find donation by reference")
	}
	return d, nil
}

// SetProviderReference records the gateway-side id once. Later calls for
// the same donation are no-ops.
func (r *DonationRepository) SetProviderReference(ctx context.Context, ref, providerRef string) error {
	query := `
		UPDATE donations SET provider_reference = $1, updated_at = NOW()
		WHERE transaction_reference = $2 AND provider_reference IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, providerRef, ref)
	if err != nil {
		return errors.Wrap(err, "failed to set provider reference")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		if _, err := r.FindByReference(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// FindStalePending returns the oldest PENDING donations created before the
// cutoff, resuming after the cursor when one is given.
func (r *DonationRepository) FindStalePending(ctx context.Context, createdBefore time.Time, after *reconcile.StaleCursor, limit int) ([]*domain.Donation, error) {
	args := []interface{}{domain.DonationStatusPending, createdBefore}
	query := `SELECT ` + donationColumns + ` FROM donations
		WHERE status = $1 AND created_at < $2`
	if after != nil {
		args = append(args, after.CreatedAt, after.Reference)
		query += ` AND (created_at, transaction_reference) > ($3, $4)`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at ASC, transaction_reference ASC LIMIT $%d`, len(args))

	var donations []*domain.Donation
	if err := r.db.SelectContext(ctx, &donations, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to find stale donations")
	}
	return donations, nil
}

func (r *DonationRepository) List(ctx context.Context, filter domain.DonationFilter) ([]*domain.Donation, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.GeneralOnly {
		where = append(where, "campaign_id IS NULL")
	} else if filter.CampaignID != nil {
		args = append(args, *filter.CampaignID)
		where = append(where, fmt.Sprintf("campaign_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + donationColumns + ` FROM donations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	donations := []*domain.Donation{}
	if err := r.db.SelectContext(ctx, &donations, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list donations")
	}
	return donations, nil
}

type currencyRow struct {
	Currency domain.Currency `db:"currency"`
	Count    int64           `db:"count"`
	Raised   decimal.Decimal `db:"raised"`
}

func (r *DonationRepository) Stats(ctx context.Context, recent int) (*domain.DashboardStats, error) {
	stats := &domain.DashboardStats{RaisedByCurrency: make(map[domain.Currency]decimal.Decimal)}
	for _, cur := range domain.SupportedCurrencies {
		stats.RaisedByCurrency[cur] = decimal.Zero
	}

	var rows []currencyRow
	query := `
		SELECT currency, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS raised
		FROM donations WHERE status = $1 GROUP BY currency
	`
	if err := r.db.SelectContext(ctx, &rows, query, domain.DonationStatusSuccess); err != nil {
		return nil, errors.Wrap(err, "failed to sum donations")
	}
	for _, row := range rows {
		stats.TotalDonations += row.Count
		stats.RaisedByCurrency[row.Currency] = row.Raised
	}

	if err := r.db.GetContext(ctx, &stats.ActiveCampaigns, `SELECT COUNT(*) FROM campaigns WHERE is_active = TRUE`); err != nil {
		return nil, errors.Wrap(err, "failed to count active campaigns")
	}

	stats.RecentDonations = []*domain.Donation{}
	query = `SELECT ` + donationColumns + ` FROM donations WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &stats.RecentDonations, query, domain.DonationStatusSuccess, recent); err != nil {
		return nil, errors.Wrap(err, "failed to load recent donations")
	}
	return stats, nil
}

// Atomically runs fn in a READ COMMITTED transaction. The conditional
// UPDATE in Transition is what serializes concurrent settlements.
func (r *DonationRepository) Atomically(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&donationTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

type donationTx struct {
	tx *sqlx.Tx
}

// Transition moves a donation from one status to another. ok is false when
// the donation was not in the from status, meaning another caller won.
func (t *donationTx) Transition(ctx context.Context, ref string, from, to domain.DonationStatus, at time.Time) (*domain.Donation, bool, error) {
	var settledAt *time.Time
	if to.IsTerminal() {
		settledAt = &at
	}

	d := &domain.Donation{}
	query := `
		UPDATE donations SET status = $1, updated_at = $2, settled_at = $3
		WHERE transaction_reference = $4 AND status = $5
		RETURNING ` + donationColumns
	err := t.tx.GetContext(ctx, d, query, to, at, settledAt, ref, from)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to transition donation")
	}
	return d, true, nil
}

func (t *donationTx) IncrementRaised(ctx context.Context, campaignID uuid.UUID, currency domain.Currency, amount decimal.Decimal) error {
	query := `
		INSERT INTO campaign_totals (campaign_id, currency, goal_amount, current_raised)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (campaign_id, currency)
		DO UPDATE SET current_raised = campaign_totals.current_raised + EXCLUDED.current_raised
	`
	_, err := t.tx.ExecContext(ctx, query, campaignID, currency, amount)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return errors.ErrCampaignNotFound
		}
		return errors.Wrap(err, "failed to increment campaign total")
	}
	return nil
}
