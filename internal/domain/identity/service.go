package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "identity").Logger()}
}

func (s *Service) Register(ctx context.Context, kind Kind, p *Person) error {
	if kind != KindPatient && kind != KindDoctor {
		return apperr.Validation("unknown directory %q", kind)
	}
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.DisplayName == "" {
		return apperr.Validation("display_name is required")
	}
	if err := s.repo.Create(ctx, kind, p); err != nil {
		return err
	}
	s.logger.Info().Str("kind", string(kind)).Str("id", p.ID.String()).Msg("directory entry registered")
	return nil
}

func (s *Service) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Person, error) {
	if kind == KindDoctor {
		return s.repo.Doctor(ctx, id)
	}
	return s.repo.Patient(ctx, id)
}

func (s *Service) List(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	return s.repo.List(ctx, kind, limit, offset)
}
