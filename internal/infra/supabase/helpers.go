package supabase

import (
	"context"
	"encoding/json"
	"net/http"
)

// ============================================================
// HTTP helpers for POST and PATCH
// ============================================================

func (c *Client) doPost(ctx context.Context, path string, data map[string]any) ([]byte, error) {
	return c.doPostWith(ctx, path, data, map[string]string{
		"Prefer": "return=representation",
	})
}

func (c *Client) doPostWith(ctx context.Context, path string, data map[string]any, headers map[string]string) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodPost, path, jsonBody, headers)
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) error {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPatch, path, jsonBody, map[string]string{
		"Prefer": "return=minimal",
	})
	return err
}
