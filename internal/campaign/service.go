package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxSlugAttempts = 5

type Repository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Campaign, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListActive(ctx context.Context, limit, offset int) ([]*domain.Campaign, error)
	Totals(ctx context.Context, campaignID uuid.UUID) ([]domain.CampaignTotal, error)
}

// ProgressCache is satisfied by cache.RedisCache.
type ProgressCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Service struct {
	repo   Repository
	cache  ProgressCache
	logger logger.Logger
	ttl    time.Duration
	suffix func() string
	now    func() time.Time
}

// NewService builds the campaign service. cache may be nil.
func NewService(repo Repository, cache ProgressCache, log logger.Logger, ttl time.Duration) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: log,
		ttl:    ttl,
		suffix: randomSuffix,
		now:    time.Now,
	}
}

type GoalInput struct {
	Currency string          `json:"currency" validate:"required,currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type CreateRequest struct {
	Title       string      `json:"title" validate:"required,min=3,max=200"`
	Description string      `json:"description" validate:"max=5000"`
	IsActive    *bool       `json:"is_active"`
	Goals       []GoalInput `json:"goals" validate:"dive"`
}

// Create stores a campaign with one totals row per supported currency.
// The slug comes from the title and gains a random suffix on collision.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*domain.Campaign, error) {
	goals := make(map[domain.Currency]decimal.Decimal, len(domain.SupportedCurrencies))
	for _, g := range req.Goals {
		cur := domain.ParseCurrency(g.Currency)
		if !cur.Valid() {
			return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedCurrency, g.Currency)
		}
		if g.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: goal must not be negative", errors.ErrInvalidAmount)
		}
		goals[cur] = g.Amount
	}

	slug, err := s.uniqueSlug(ctx, req.Title)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:        uuid.New(),
		Title:     strings.TrimSpace(req.Title),
		Slug:      slug,
		IsActive:  req.IsActive == nil || *req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		c.Description = &d
	}
	for _, cur := range domain.SupportedCurrencies {
		c.Totals = append(c.Totals, domain.CampaignTotal{
			CampaignID:    c.ID,
			Currency:      cur,
			GoalAmount:    goals[cur],
			CurrentRaised: decimal.Zero,
		})
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("Campaign created", map[string]interface{}{
		"campaign_id": c.ID,
		"slug":        c.Slug,
	})
	return c, nil
}

func (s *Service) uniqueSlug(ctx context.Context, title string) (string, error) {
	base := Slugify(title)
	slug := base
	for i := 0; i < maxSlugAttempts; i++ {
		exists, err := s.repo.SlugExists(ctx, slug)
		if err != nil {
			return "", errors.Wrap(err, "failed to check slug")
		}
		if !exists {
			return slug, nil
		}
		slug = base + "-" + s.suffix()
	}
	return "", fmt.Errorf("%w: slug %q", errors.ErrCampaignAlreadyExists, base)
}

// FindByID is used by the engine to check a donation's campaign.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.FindByID(ctx, id)
}

// Get returns a campaign with its current totals.
func (s *Service) Get(ctx context.Context, slug string) (*domain.Campaign, error) {
	c, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	totals, err := s.Progress(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Totals = totals
	return c, nil
}

// Resolve maps a slug to a campaign ID. An empty slug or "general" is the
// general fund and resolves to nil.
func (s *Service) Resolve(ctx context.Context, slug string) (*uuid.UUID, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" || strings.EqualFold(slug, "general") {
		return nil, nil
	}
	if id, err := uuid.Parse(slug); err == nil {
		if _, err := s.repo.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return &id, nil
	}
	c, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &c.ID, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*domain.Campaign, error) {
	campaigns, err := s.repo.ListActive(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		totals, err := s.Progress(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Totals = totals
	}
	return campaigns, nil
}

func progressKey(id uuid.UUID) string {
	return "campaign:progress:" + id.String()
}

// Progress returns per-currency totals, served from cache when fresh.
func (s *Service) Progress(ctx context.Context, campaignID uuid.UUID) ([]domain.CampaignTotal, error) {
	key := progressKey(campaignID)
	if s.cache != nil {
		var cached []domain.CampaignTotal
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			for i := range cached {
				cached[i].CampaignID = campaignID
			}
			return cached, nil
		}
	}

	totals, err := s.repo.Totals(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(ctx, key, totals, s.ttl); err != nil {
			s.logger.Warn("Failed to cache campaign progress", map[string]interface{}{
				"campaign_id": campaignID,
				"error":       err.Error(),
			})
		}
	}
	return totals, nil
}

// Invalidate drops cached progress after a donation to the campaign settles.
func (s *Service) Invalidate(ctx context.Context, d *domain.Donation) {
	if s.cache == nil || d == nil || d.CampaignID == nil {
		return
	}
	if err := s.cache.Delete(ctx, progressKey(*d.CampaignID)); err != nil {
		s.logger.Warn("Failed to invalidate campaign progress", map[string]interface{}{
			"campaign_id": *d.CampaignID,
			"error":       err.Error(),
		})
	}
}
