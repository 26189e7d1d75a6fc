package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const minPasswordLength = 8

// AuthService coordinates registration, sign-in and sign-out.
type AuthService struct {
	users      repository.UserRepository
	staff      repository.StaffRepository
	gate       *auth.Gate
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates requirements for auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	StaffRepo  repository.StaffRepository
	Gate       *auth.Gate
	BcryptCost int
	Logger     *zap.Logger
}

// AuthResult is returned on successful registration or sign-in.
type AuthResult struct {
	User      *domain.User
	Actor     domain.Actor
	Token     string
	ExpiresAt time.Time
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		staff:      deps.StaffRepo,
		gate:       deps.Gate,
		bcryptCost: deps.BcryptCost,
		logger:     logger,
	}
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = domain.NormalizeEmail(email)
	details := map[string]any{}
	if name == "" {
		details["name"] = "required"
	}
	if _, err := mail.ParseAddress(email); err != nil {
		details["email"] = "invalid"
	}
	if len(password) < minPasswordLength {
		details["password"] = "too short"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid registration", details)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !isNoRows(err) {
		return nil, apperrors.ClassifyStoreError(err, "user")
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.ClassifyStoreError(err, "user")
	}
	return s.signIn(ctx, user)
}

// Authenticate verifies credentials and opens a session carrying the staff flag.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.ClassifyStoreError(err, "user")
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.signIn(ctx, user)
}

// SignOut revokes the current session.
func (s *AuthService) SignOut(ctx context.Context, actor domain.Actor) error {
	return s.gate.SignOut(ctx, actor)
}

// Me loads the account behind actor.
func (s *AuthService) Me(ctx context.Context, actor domain.Actor) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "user")
	}
	return user, nil
}

// signIn resolves the staff flag once. A roster failure signs the actor in as non-staff.
func (s *AuthService) signIn(ctx context.Context, user *domain.User) (*AuthResult, error) {
	isStaff, err := s.staff.IsStaff(ctx, user.ID)
	if err != nil {
		s.logger.Warn("staff roster lookup failed; signing in without staff capability",
			zap.String("actor_id", user.ID), zap.Error(err))
		isStaff = false
	}

	token, session, err := s.gate.IssueSession(ctx, user.ID, isStaff)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:      user,
		Actor:     session.Actor(),
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}
