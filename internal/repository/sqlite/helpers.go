package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"ellen/internal/domain"
	"ellen/internal/repository"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullToInt64Ptr converts sql.NullInt64 to *int64
func nullToInt64Ptr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

// nullToFloat64Ptr converts sql.NullFloat64 to *float64
func nullToFloat64Ptr(nf sql.NullFloat64) *float64 {
	if nf.Valid {
		return &nf.Float64
	}
	return nil
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// int64PtrToNull converts *int64 to sql.NullInt64
func int64PtrToNull(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// float64PtrToNull converts *float64 to sql.NullFloat64
func float64PtrToNull(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// formatTimestamp renders t in the configured zone for storage
func formatTimestamp(t time.Time, zone domain.TimeZone) string {
	return zone.Convert(t).Format(timestampLayout)
}

// ============================================================================
// Event Row Scanner
// ============================================================================
//
// Column order must match between eventColumns and scanArgs().

// StoredEvent is an event row read back from the database
type StoredEvent struct {
	ID         string
	Timestamp  time.Time
	EventType  string
	PersonID   *int64
	Confidence *float64
	ImageData  []byte
	FullBlob   string
}

// eventRow holds all columns from an event query for scanning
type eventRow struct {
	GorillaID  string
	Timestamp  string
	EventType  string
	PersonID   sql.NullInt64
	Confidence sql.NullFloat64
	ImageData  []byte
	FullBlob   sql.NullString
}

const eventColumns = `"GorillaId", "Timestamp", "EventType", "PersonId", "Confidence", "ImageData", "FullBlob"`

// scanArgs returns pointers to all fields for sql.Scan()
func (r *eventRow) scanArgs() []interface{} {
	return []interface{}{
		&r.GorillaID,  // 1
		&r.Timestamp,  // 2
		&r.EventType,  // 3
		&r.PersonID,   // 4
		&r.Confidence, // 5
		&r.ImageData,  // 6
		&r.FullBlob,   // 7
	}
}

// toStored converts the scanned row, reading the timestamp in zone
func (r *eventRow) toStored(zone domain.TimeZone) (StoredEvent, error) {
	ts, err := time.ParseInLocation(timestampLayout, r.Timestamp, zone.Location())
	if err != nil {
		return StoredEvent{}, fmt.Errorf("parse timestamp of %s: %w", r.GorillaID, err)
	}
	return StoredEvent{
		ID:         r.GorillaID,
		Timestamp:  ts,
		EventType:  r.EventType,
		PersonID:   nullToInt64Ptr(r.PersonID),
		Confidence: nullToFloat64Ptr(r.Confidence),
		ImageData:  r.ImageData,
		FullBlob:   nullToString(r.FullBlob),
	}, nil
}

// ============================================================================
// Event Write Helpers
// ============================================================================

// eventInsertArgs prepares arguments for the event INSERT
// Returns: GorillaId, Timestamp, EventType, PersonId, Confidence, ImageData, FullBlob
func eventInsertArgs(e *domain.Event, opts repository.Options) []interface{} {
	var image []byte
	if opts.StoreImage && e.Image != nil && len(e.Image.Data) > 0 {
		image = e.Image.Data
	}

	var blob sql.NullString
	if opts.StoreFullPayload && len(e.RawPayload) > 0 {
		blob = sql.NullString{String: string(e.RawPayload), Valid: true}
	}

	return []interface{}{
		e.ID,
		formatTimestamp(e.Timestamp, opts.TimeZone),
		e.EventType,
		int64PtrToNull(e.PersonID()),
		float64PtrToNull(e.Confidence()),
		image,
		blob,
	}
}
