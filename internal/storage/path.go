package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const exportRoot = "exports"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath returns exports/date=YYYY-MM-DD/<request-id>.parquet with
// the date taken in UTC.
func BuildExportPath(requestID string, at time.Time) (string, error) {
	if err := validatePathComponent(requestID, "request id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		exportRoot,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		requestID+".parquet",
	), nil
}

// IsExportPath reports whether key was produced by BuildExportPath.
func IsExportPath(key string) bool {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 3 || parts[0] != exportRoot {
		return false
	}
	if _, err := time.Parse("date=2006-01-02", parts[1]); err != nil {
		return false
	}
	name, ok := strings.CutSuffix(parts[2], ".parquet")
	return ok && pathComponentPattern.MatchString(name)
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
