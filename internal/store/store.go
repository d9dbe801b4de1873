package store

import (
	"errors"
	"time"

	"github.com/dukerupert/budgetbell/internal/database"
)

// ErrNotFound is returned by lookups that must find a row.
var ErrNotFound = errors.New("not found")

func ts(t time.Time) string {
	return t.UTC().Format(database.TimeFormat)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
