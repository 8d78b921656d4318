// Package repository provides typed access to the portal's reference tables
// (profiles, projects, tenants) on top of a port.DataSource.
package repository

import (
	"encoding/json"
	"fmt"
)

// decodeRows decodes a JSON array of rows.
func decodeRows[T any](table string, body []byte) ([]T, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return rows, nil
}

// firstRow decodes the first row or returns nil when there is none.
func firstRow[T any](table string, body []byte) (*T, error) {
	rows, err := decodeRows[T](table, body)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}
