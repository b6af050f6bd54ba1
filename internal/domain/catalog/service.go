package catalog

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

// Invalidator is implemented by caches that must be flushed after writes.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Service struct {
	repo   Repository
	cache  Invalidator
	logger zerolog.Logger
}

func NewService(repo Repository, cache Invalidator, logger zerolog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger.With().Str("component", "catalog").Logger()}
}

func (s *Service) Create(ctx context.Context, m *Medicine) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return apperr.Validation("name is required")
	}
	if m.UnitPrice < 0 || math.IsNaN(m.UnitPrice) || math.IsInf(m.UnitPrice, 0) {
		return apperr.Validation("unit_price must be a non-negative amount")
	}
	m.UnitPrice = math.Round(m.UnitPrice*100) / 100
	if err := s.repo.Create(ctx, m); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("catalog cache invalidation failed")
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Medicine, int, error) {
	return s.repo.List(ctx, limit, offset)
}
