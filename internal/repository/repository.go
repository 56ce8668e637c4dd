package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ellen/internal/domain"
	"ellen/internal/retention"
)

var (
	// ErrStoreMissing means the backing file was never ensured or vanished
	ErrStoreMissing = errors.New("backing store missing")

	// ErrDuplicateEvent means an event with the same external id exists
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrCorruptStore means the backing file exists but cannot be opened
	ErrCorruptStore = errors.New("backing store unreadable")

	// ErrRollover means an oversized store file could not be renamed aside
	ErrRollover = errors.New("store rollover failed")
)

// Kind selects a backing store implementation
type Kind string

const (
	KindSpreadsheet Kind = "XLS"
	KindRelational  Kind = "SQL"
)

// ParseKind converts a case-insensitive store name to a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindSpreadsheet, "XLSX":
		return KindSpreadsheet, nil
	case KindRelational, "SQLITE":
		return KindRelational, nil
	}
	return "", fmt.Errorf("backing store must be one of %q, %q: got %q", KindSpreadsheet, KindRelational, s)
}

// Options is the retention and behavior configuration pushed into a store
type Options struct {
	Retention retention.Policy

	StoreImage       bool
	ImageKind        domain.ImageKind
	StoreFullPayload bool

	// OutputDirectory holds the store file and its rollovers
	OutputDirectory string

	// DataDirectory holds temporary files such as thumbnails
	DataDirectory string

	TimeZone domain.TimeZone

	// Clock defaults to the system clock
	Clock retention.Clock
}

// DefaultOptions mirrors the defaults of a fresh configuration file
func DefaultOptions() Options {
	return Options{
		Retention: retention.Policy{
			MaxRecordCount:   10_000,
			MaxKeepDays:      30,
			MaxSizeMegabytes: 100,
		},
		StoreImage:      true,
		ImageKind:       domain.ImageKindFace,
		OutputDirectory: ".",
		DataDirectory:   "./data",
		TimeZone:        domain.TimeZoneUTC,
	}
}

// Now returns the current time from the configured clock
func (o Options) Now() time.Time {
	if o.Clock == nil {
		return time.Now()
	}
	return o.Clock.Now()
}

// PathFor joins the output directory and a store file name
func (o Options) PathFor(name string) string {
	dir := o.OutputDirectory
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name)
}

// PruneResult reports what a Prune call did
type PruneResult struct {
	// Removed is the number of event records deleted
	Removed int `json:"removed"`

	// RolloverFile is the base name the store file was renamed to, or ""
	RolloverFile string `json:"rollover_file,omitempty"`
}

// RolledOver reports whether the store file was renamed aside
func (r PruneResult) RolledOver() bool {
	return r.RolloverFile != ""
}

// Store is the uniform contract both backing stores implement.
// Calls are expected to be serialized by the caller.
type Store interface {
	// Kind names the implementation
	Kind() Kind

	// Configure replaces the active options. Call before Ensure.
	Configure(opts Options)

	// Ensure creates the store file and schema if missing or unreadable and
	// reports whether a fresh store was created.
	Ensure(ctx context.Context) (created bool, err error)

	// UpsertCandidates inserts candidates whose id is not yet known.
	// Existing entries keep their first-seen display name.
	UpsertCandidates(ctx context.Context, candidates []domain.Candidate) error

	// AppendEvent durably appends one event
	AppendEvent(ctx context.Context, event *domain.Event) error

	// Prune applies the retention policy
	Prune(ctx context.Context) (PruneResult, error)

	// Count returns the number of stored events
	Count(ctx context.Context) (int, error)

	// Path returns the store file location
	Path() string

	// Close releases cached handles
	Close() error
}
