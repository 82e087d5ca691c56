package transform

import (
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/salesforce"
)

// firstString returns the first non-empty string among paths.
func firstString(rec salesforce.Record, paths ...string) string {
	for _, p := range paths {
		if s := rec.String(p); s != "" {
			return s
		}
	}
	return ""
}

// firstFloat returns the first numeric value among paths.
func firstFloat(rec salesforce.Record, paths ...string) (float64, bool) {
	for _, p := range paths {
		if f, ok := rec.Float(p); ok {
			return f, true
		}
	}
	return 0, false
}

// nullableString returns the first non-empty string among paths, or nil.
func nullableString(rec salesforce.Record, paths ...string) any {
	if s := firstString(rec, paths...); s != "" {
		return s
	}
	return nil
}

// nullableFloat returns the first numeric value among paths, or nil.
func nullableFloat(rec salesforce.Record, paths ...string) any {
	if f, ok := firstFloat(rec, paths...); ok {
		return f
	}
	return nil
}

// nullableInt returns a whole-number field, or nil.
func nullableInt(rec salesforce.Record, path string) any {
	if f, ok := rec.Float(path); ok {
		return int64(f)
	}
	return nil
}

// total returns the first numeric value among paths, or 0.
func total(rec salesforce.Record, paths ...string) float64 {
	f, _ := firstFloat(rec, paths...)
	return f
}

// boolOr returns a boolean field, or def when absent.
func boolOr(rec salesforce.Record, path string, def bool) bool {
	if b, ok := rec.Bool(path); ok {
		return b
	}
	return def
}

// nullableDate returns a date field truncated to midnight UTC, or nil.
func nullableDate(rec salesforce.Record, path string) any {
	t, ok := rec.Time(path)
	if !ok {
		return nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nullableTime returns a timestamp field, or nil.
func nullableTime(rec salesforce.Record, path string) any {
	t, ok := rec.Time(path)
	if !ok {
		return nil
	}
	return t
}

// reference resolves a foreign key field through the identity maps, or nil when unresolved.
func reference(rec salesforce.Record, maps identity.Maps, t identity.EntityType, path string) any {
	id := maps.Resolve(t, rec.String(path))
	if id == nil {
		return nil
	}
	return *id
}
