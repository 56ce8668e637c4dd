// Package retention holds the record-count, age and size rules shared by
// the backing stores. The rules are pure; each store decides how to apply
// them to its own substrate.
package retention

import "time"

// BytesPerMegabyte converts the configured size limit to bytes
const BytesPerMegabyte = 1_000_000

// Policy describes how much data a store may keep. Any limit <= 0 means
// unlimited.
type Policy struct {
	MaxRecordCount   int `json:"max_record_count"`
	MaxKeepDays      int `json:"max_keep_days"`
	MaxSizeMegabytes int `json:"max_size_mb"`
}

// Excess returns how many of count records exceed the record limit
func (p Policy) Excess(count int) int {
	if p.MaxRecordCount <= 0 || count <= p.MaxRecordCount {
		return 0
	}
	return count - p.MaxRecordCount
}

// Cutoff returns the instant at or before which records are expired.
// ok is false when age pruning is disabled.
func (p Policy) Cutoff(now time.Time) (cutoff time.Time, ok bool) {
	if p.MaxKeepDays <= 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -p.MaxKeepDays), true
}

// Expired reports whether a record stamped ts is past the age limit
func (p Policy) Expired(ts, now time.Time) bool {
	cutoff, ok := p.Cutoff(now)
	return ok && !ts.After(cutoff)
}

// MaxBytes returns the size limit in bytes; ok is false when unlimited
func (p Policy) MaxBytes() (limit int64, ok bool) {
	if p.MaxSizeMegabytes <= 0 {
		return 0, false
	}
	return int64(p.MaxSizeMegabytes) * BytesPerMegabyte, true
}

// Oversized reports whether a file of size bytes exceeds the size limit
func (p Policy) Oversized(size int64) bool {
	limit, ok := p.MaxBytes()
	return ok && size > limit
}

// Clock supplies the current time to pruning
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Used by tests and one-shot
// maintenance runs that need a stable reference time.
type FixedClock time.Time

// Now returns the fixed instant
func (c FixedClock) Now() time.Time { return time.Time(c) }

// Cadence decides when the next periodic prune is due, by comparing
// elapsed wall-clock time against an interval.
type Cadence struct {
	Interval time.Duration
	last     time.Time
}

// Due reports whether a prune should run at now. A zero Interval means
// prune before every ingestion.
func (c *Cadence) Due(now time.Time) bool {
	if c.last.IsZero() || c.Interval <= 0 {
		return true
	}
	return now.Sub(c.last) >= c.Interval
}

// Mark records that a prune ran at now
func (c *Cadence) Mark(now time.Time) {
	c.last = now
}

// Last returns the time of the most recent prune
func (c *Cadence) Last() time.Time {
	return c.last
}
