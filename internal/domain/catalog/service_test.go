package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

type mockRepo struct {
	meds map[uuid.UUID]*Medicine
}

func newMockRepo() *mockRepo {
	return &mockRepo{meds: make(map[uuid.UUID]*Medicine)}
}

func (m *mockRepo) FindByName(_ context.Context, name string) (*Medicine, error) {
	for _, med := range m.meds {
		if med.Name == name {
			return med, nil
		}
	}
	return nil, apperr.NotFound("medicine", name)
}

func (m *mockRepo) Create(_ context.Context, med *Medicine) error {
	med.ID = uuid.New()
	med.Active = true
	med.CreatedAt = time.Now()
	m.meds[med.ID] = med
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Medicine, error) {
	med, ok := m.meds[id]
	if !ok {
		return nil, apperr.NotFound("medicine", id)
	}
	return med, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Medicine, int, error) {
	var out []*Medicine
	for _, med := range m.meds {
		out = append(out, med)
	}
	return out, len(out), nil
}

type mockInvalidator struct {
	calls int
	err   error
}

func (m *mockInvalidator) Invalidate(context.Context) error {
	m.calls++
	return m.err
}

func TestService_Create(t *testing.T) {
	inv := &mockInvalidator{}
	svc := NewService(newMockRepo(), inv, zerolog.Nop())

	m := &Medicine{Name: " Amoxicillin 500mg ", UnitPrice: 3.456}
	if err := svc.Create(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "Amoxicillin 500mg" {
		t.Errorf("expected trimmed name, got %q", m.Name)
	}
	if m.UnitPrice != 3.46 {
		t.Errorf("expected price rounded to 3.46, got %v", m.UnitPrice)
	}
	if inv.calls != 1 {
		t.Errorf("expected cache invalidation, got %d calls", inv.calls)
	}
}

func TestService_Create_InvalidationFailureIsNotFatal(t *testing.T) {
	inv := &mockInvalidator{err: fmt.Errorf("redis down")}
	svc := NewService(newMockRepo(), inv, zerolog.Nop())
	if err := svc.Create(context.Background(), &Medicine{Name: "Cetirizine", UnitPrice: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc := NewService(newMockRepo(), nil, zerolog.Nop())
	cases := []*Medicine{
		{Name: "", UnitPrice: 1},
		{Name: "Cetirizine", UnitPrice: -0.01},
	}
	for _, m := range cases {
		if err := svc.Create(context.Background(), m); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", m, err)
		}
	}
}

func TestService_Get_NotFound(t *testing.T) {
	svc := NewService(newMockRepo(), nil, zerolog.Nop())
	if _, err := svc.Get(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
