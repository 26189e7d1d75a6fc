package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// Gate turns bearer tokens into actors and owns the session lifecycle.
type Gate struct {
	tokens   *TokenManager
	sessions SessionStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewGate wires the token manager and session store.
func NewGate(tokens *TokenManager, sessions SessionStore, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{tokens: tokens, sessions: sessions, logger: logger, now: time.Now}
}

// IssueSession stores a session carrying the staff flag and returns a token bound to it.
func (g *Gate) IssueSession(ctx context.Context, actorID string, isStaff bool) (string, *domain.Session, error) {
	issuedAt := g.now().UTC()
	session := &domain.Session{
		ID:       uuid.NewString(),
		ActorID:  actorID,
		IsStaff:  isStaff,
		IssuedAt: issuedAt,
	}
	token, expiresAt, err := g.tokens.GenerateToken(actorID, session.ID, issuedAt)
	if err != nil {
		return "", nil, err
	}
	session.ExpiresAt = expiresAt
	if err := g.sessions.Save(ctx, session); err != nil {
		return "", nil, apperrors.NewTransientError(err)
	}
	return token, session, nil
}

// ResolveActor validates token and loads its session.
// A session store failure yields a non-staff actor instead of an error.
func (g *Gate) ResolveActor(ctx context.Context, token string) (domain.Actor, error) {
	claims, err := g.tokens.ParseToken(token)
	if err != nil {
		return domain.Actor{}, apperrors.NewUnauthorized("invalid token")
	}

	session, err := g.sessions.Get(ctx, claims.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return domain.Actor{}, apperrors.NewUnauthorized("session expired or signed out")
	case err != nil:
		g.logger.Warn("session store unavailable; treating actor as non-staff",
			zap.String("actor_id", claims.Subject),
			zap.String("session_id", claims.SessionID),
			zap.Error(err))
		return domain.Actor{ID: claims.Subject, SessionID: claims.SessionID}, nil
	}

	if session.ActorID != claims.Subject {
		return domain.Actor{}, apperrors.NewUnauthorized("session does not match token")
	}
	return session.Actor(), nil
}

// SignOut revokes the actor's session.
func (g *Gate) SignOut(ctx context.Context, actor domain.Actor) error {
	if actor.SessionID == "" {
		return nil
	}
	if err := g.sessions.Delete(ctx, actor.SessionID); err != nil {
		return apperrors.NewTransientError(err)
	}
	return nil
}
