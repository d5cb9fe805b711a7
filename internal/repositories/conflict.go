package repositories

import "strings"

// isUniqueViolation detects a unique-constraint violation across the two
// backends this store supports (SQLite via modernc, Postgres via pgx),
// which report it with different driver error strings rather than a
// shared sentinel.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
