package service

import (
	"context"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// SessionService signs users in and out through the session provider.
type SessionService struct {
	provider port.SessionProvider
	logger   *zap.Logger
}

// NewSessionService creates the session service.
func NewSessionService(provider port.SessionProvider, logger *zap.Logger) *SessionService {
	return &SessionService{provider: provider, logger: logger}
}

// Login validates the credentials' shape and signs in.
func (s *SessionService) Login(ctx context.Context, req domain.LoginRequest) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Login")
	defer span.End()

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &domain.ErrValidation{Field: "email", Message: "invalid email"}
	}
	if req.Password == "" {
		return nil, &domain.ErrValidation{Field: "password", Message: "is required"}
	}

	sess, err := s.provider.SignIn(ctx, email, req.Password)
	if err != nil {
		s.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", sess.User.ID))
	s.logger.Info("login succeeded", zap.String("user_id", sess.User.ID))
	return sess, nil
}

// Logout revokes the session behind accessToken.
func (s *SessionService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return &domain.ErrUnauthorized{}
	}
	return s.provider.SignOut(ctx, accessToken)
}

// CurrentUser returns the identity behind accessToken.
func (s *SessionService) CurrentUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	if accessToken == "" {
		return nil, &domain.ErrUnauthorized{}
	}
	id, err := s.provider.CurrentUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, &domain.ErrUnauthorized{}
	}
	return id, nil
}
