package reconcile

import (
	"context"
	"time"

	"fundly/internal/campaign"
	"fundly/pkg/domain"

	"github.com/google/uuid"
)

// Store is the donation ledger. FindByReference returns
// ErrUnknownTransaction when nothing matches.
type Store interface {
	Create(ctx context.Context, d *domain.Donation) error
	FindByReference(ctx context.Context, ref string) (*domain.Donation, error)
	SetProviderReference(ctx context.Context, ref, providerRef string) error
	List(ctx context.Context, filter domain.DonationFilter) ([]*domain.Donation, error)
	Stats(ctx context.Context, recent int) (*domain.DashboardStats, error)
	// Atomically runs fn in one read-committed transaction, committing
	// only when fn returns nil.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside Store.Atomically.
type Tx interface {
	// Transition moves ref from one status to another only if it is
	// currently in from. ok is false when another writer got there first.
	Transition(ctx context.Context, ref string, from, to domain.DonationStatus, at time.Time) (d *domain.Donation, ok bool, err error)
	campaign.Incrementer
}

// StaleCursor is the position of the last donation a sweep examined.
// Donations are ordered by (CreatedAt, Reference).
type StaleCursor struct {
	CreatedAt time.Time
	Reference string
}

// StaleFinder loads PENDING donations created before a cutoff, oldest
// first. A non-nil after skips everything up to and including that
// position.
type StaleFinder interface {
	FindStalePending(ctx context.Context, createdBefore time.Time, after *StaleCursor, limit int) ([]*domain.Donation, error)
}

type CampaignLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
}
