// Package supabase provides a client for Supabase (PostgREST, Auth, Storage
// and Realtime). It is the default data backend of the portal.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// doRequest executes an authenticated request against the Supabase gateway.
// path is relative to the base URL (e.g. "rest/v1/project?id=eq.1").
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, &statusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return respBody, nil
}

// call runs fn behind the circuit breaker with retries and maps failures
// to domain errors. Client errors (4xx) are not retried.
func (c *Client) call(ctx context.Context, service string, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			err := fn()
			var se *statusError
			if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
				return resilience.Permanent(err)
			}
			return err
		})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

// --- DataSource (implements port.DataSource) ---

// Select runs a structured query through PostgREST and returns the JSON rows.
func (c *Client) Select(ctx context.Context, q *domain.Query) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Select")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", q.Table))

	path := "rest/v1/" + BuildPath(q)
	var body []byte
	err := c.call(ctx, "supabase/"+q.Table, func() error {
		b, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return []byte("[]"), nil
	}
	return body, nil
}

// Insert inserts one row and returns the created representation.
func (c *Client) Insert(ctx context.Context, table string, row map[string]any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	var body []byte
	err := c.call(ctx, "supabase/"+table, func() error {
		b, err := c.doPost(ctx, "rest/v1/"+table, row)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// Update patches every row matching filters.
func (c *Client) Update(ctx context.Context, table string, filters []domain.Filter, patch map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "refusing unfiltered update"}
	}
	q := &domain.Query{Table: table, Filters: filters}
	path := "rest/v1/" + BuildPath(q)
	return c.call(ctx, "supabase/"+table, func() error {
		return c.doPatch(ctx, path, patch)
	})
}

// RPC calls a stored procedure and returns its JSON result.
func (c *Client) RPC(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RPC")
	defer span.End()
	span.SetAttributes(attribute.String("db.function", fn))

	if args == nil {
		args = map[string]any{}
	}
	headers := map[string]string{"Prefer": "return=representation"}
	// functions resolving auth.uid() must run as the caller
	if tok := domain.AccessTokenFrom(ctx); tok != "" {
		headers["Authorization"] = "Bearer " + tok
	}
	var body []byte
	err := c.call(ctx, "supabase/rpc/"+fn, func() error {
		b, err := c.doPostWith(ctx, "rest/v1/rpc/"+fn, args, headers)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// Ping checks PostgREST reachability.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "rest/v1/", nil, nil)
	return err
}
