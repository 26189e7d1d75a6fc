package service

import (
	"context"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// StaffService maintains the staff roster. Changes apply to sessions issued afterwards.
type StaffService struct {
	users repository.UserRepository
	staff repository.StaffRepository
}

// NewStaffService constructs the service.
func NewStaffService(users repository.UserRepository, staff repository.StaffRepository) *StaffService {
	return &StaffService{users: users, staff: staff}
}

// Grant adds the account with email to the roster. Granting twice is a no-op.
func (s *StaffService) Grant(ctx context.Context, email string) (*repository.StaffMember, error) {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "user")
	}
	if err := s.staff.Grant(ctx, user.ID); err != nil {
		return nil, apperrors.ClassifyStoreError(err, "user")
	}
	return &repository.StaffMember{UserID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// Revoke removes the account with email from the roster.
func (s *StaffService) Revoke(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return apperrors.ClassifyStoreError(err, "user")
	}
	return apperrors.ClassifyStoreError(s.staff.Revoke(ctx, user.ID), "staff member")
}

// List returns the roster in grant order.
func (s *StaffService) List(ctx context.Context) ([]repository.StaffMember, error) {
	members, err := s.staff.List(ctx)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "staff roster")
	}
	return members, nil
}
