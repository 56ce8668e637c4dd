// Package repository defines the backing store contract for ellen.
//
// Two implementations live in subpackages and are interchangeable from the
// ingestion layer's point of view:
//
// - sqlite: a relational store with a people table and an events table
// - xlsx: a spreadsheet workbook with "Entries" and "People" sheets
//
// # Lifecycle
//
// A store is configured with Options, then Ensure is called to create the
// physical file and schema when missing. Ensure is idempotent and is
// re-run before every append because the file may have been moved or
// deleted between calls. A store whose file is unreadable is deleted and
// recreated by Ensure.
//
// # Retention
//
// Prune applies the retention.Policy in Options and reports a PruneResult:
// the number of records removed and, for the spreadsheet store, the name
// of the rollover file when the workbook grew past its size limit.
//
// # Errors
//
// Callers classify failures with errors.Is against the sentinel errors in
// this package: ErrStoreMissing (re-run Ensure and retry once),
// ErrDuplicateEvent, ErrCorruptStore and ErrRollover.
package repository
