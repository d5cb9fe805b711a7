package db

import (
	"context"

	"gorm.io/gorm"
)

// HealthReport is the store's self-check contract. Verify never returns an
// error itself — failures are reported in the struct so a caller can
// always produce a response. The HTTP /health handler does not call it.
type HealthReport struct {
	CanConnect    bool   `json:"can_connect"`
	SchemaVersion int    `json:"schema_version"`
	UserCount     int64  `json:"user_count"`
	Error         string `json:"error,omitempty"`
}

// Verify checks connectivity and reports basic store statistics.
func Verify(ctx context.Context, database *gorm.DB) HealthReport {
	report := HealthReport{}

	if err := Ping(ctx, database); err != nil {
		report.Error = err.Error()
		return report
	}
	report.CanConnect = true

	var version int
	if err := database.WithContext(ctx).Raw("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&version).Error; err == nil {
		report.SchemaVersion = version
	}

	var count int64
	if err := database.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		report.Error = err.Error()
		return report
	}
	report.UserCount = count

	return report
}
