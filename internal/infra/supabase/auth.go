package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// SessionProvider implementation: Supabase Auth (GoTrue)
// ============================================================

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// authRequest calls the auth API with the anon key and, when given, the
// user's access token. Auth calls are not retried.
func (c *Client) authRequest(ctx context.Context, method, path, accessToken string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = b
	}
	headers := map[string]string{}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	} else {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return c.doRequest(ctx, method, path, body, headers)
}

func mapAuthError(err error) error {
	var se *statusError
	if errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		return &domain.ErrUnauthorized{Message: "invalid credentials or session"}
	}
	return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignIn")
	defer span.End()

	body, err := c.authRequest(ctx, http.MethodPost, "auth/v1/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, mapAuthError(err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode auth token: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", tok.User.ID))
	c.logger.Info("user signed in", zap.String("user_id", tok.User.ID))

	return &domain.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		User:         domain.Identity{ID: tok.User.ID, Email: tok.User.Email},
	}, nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	ctx, span := tracer.Start(ctx, "Supabase.SignOut")
	defer span.End()

	if _, err := c.authRequest(ctx, http.MethodPost, "auth/v1/logout", accessToken, nil); err != nil {
		return mapAuthError(err)
	}
	return nil
}

// CurrentUser returns the identity behind accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CurrentUser")
	defer span.End()

	body, err := c.authRequest(ctx, http.MethodGet, "auth/v1/user", accessToken, nil)
	if err != nil {
		return nil, mapAuthError(err)
	}
	var id domain.Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	return &id, nil
}
