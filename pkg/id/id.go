// Package id generates sortable run identifiers for job log correlation.
package id

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string.
func New() string {
	return ulid.Make().String()
}
