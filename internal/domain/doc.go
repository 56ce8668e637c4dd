// Package domain defines the core types for the ellen event receiver.
//
// This package contains the normalized, storage-agnostic representation of
// a facial-recognition notification as it is handed to a backing store.
//
// # Core Types
//
// Event is one received notification: identity, timestamp, classification,
// the best-match Candidate (if any), an optional Image and the optional raw
// payload. Events are built once at ingestion time and never modified.
//
// Candidate is a possible identity match with an optional similarity score.
// A missing score means the upstream value was not numeric.
//
// Image carries decoded image bytes plus the metadata needed to name and
// embed them (extension, original file name, image kind).
//
// # Time Handling
//
// TimeZone selects whether timestamps are kept in UTC or converted to the
// local zone before storage. The conversion happens once; stores format the
// value they receive without converting back.
//
// # Design Principles
//
// - Immutable value objects
// - No database or external dependencies
package domain
