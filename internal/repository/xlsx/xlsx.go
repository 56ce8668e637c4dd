// Package xlsx implements the spreadsheet backing store on an Excel workbook
// with an "Entries" sheet of events and a "People" sheet of candidates.
//
// The workbook is reopened on every call and never held open between calls,
// so the file can be inspected or moved while the service runs.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ellen/internal/domain"
	"ellen/internal/logging"
	"ellen/internal/repository"
)

const (
	// FileName is the workbook created in the output directory
	FileName = "ellen.xlsx"

	EntriesSheet = "Entries"
	PeopleSheet  = "People"

	// ImageColumn holds the embedded thumbnail of each entry
	ImageColumn = "F"

	timestampFormat = "yyyy-mm-dd hh:mm:ss.000"
)

var (
	entriesHeader = []interface{}{"GorillaId", "Timestamp", "Event Type", "PersonId", "Confidence", "Image", "FullBlob"}
	peopleHeader  = []interface{}{"BAPId", "Display Name"}
)

// Store implements repository.Store on a single workbook
type Store struct {
	opts    repository.Options
	ensured bool
}

var _ repository.Store = (*Store)(nil)

// New creates an unconfigured spreadsheet store
func New() *Store {
	return &Store{opts: repository.DefaultOptions()}
}

// Kind returns repository.KindSpreadsheet
func (s *Store) Kind() repository.Kind {
	return repository.KindSpreadsheet
}

// Configure replaces the store options
func (s *Store) Configure(opts repository.Options) {
	s.opts = opts
}

// Path returns the workbook location
func (s *Store) Path() string {
	return s.opts.PathFor(FileName)
}

// Ensure creates the workbook when it is absent. An existing file that
// cannot be opened is deleted and recreated; one that opens but lacks a
// sheet gets the sheet back with its header.
func (s *Store) Ensure(ctx context.Context) (bool, error) {
	path := s.Path()

	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err == nil {
			defer f.Close()
			if err := repairSheets(f); err != nil {
				return false, err
			}
			s.ensured = true
			return false, nil
		}

		logging.Warn().Err(err).Str("path", path).Msg("workbook unreadable, recreating")
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("failed to remove corrupt workbook: %w", errors.Join(repository.ErrCorruptStore, err))
		}
	}

	if err := create(path); err != nil {
		return false, err
	}
	s.ensured = true
	logging.Info().Str("path", path).Msg("created workbook")
	return true, nil
}

func create(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), EntriesSheet); err != nil {
		return fmt.Errorf("failed to name entries sheet: %w", err)
	}
	if err := f.SetSheetRow(EntriesSheet, "A1", &entriesHeader); err != nil {
		return fmt.Errorf("failed to write entries header: %w", err)
	}
	if _, err := f.NewSheet(PeopleSheet); err != nil {
		return fmt.Errorf("failed to create people sheet: %w", err)
	}
	if err := f.SetSheetRow(PeopleSheet, "A1", &peopleHeader); err != nil {
		return fmt.Errorf("failed to write people header: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// repairSheets restores a missing sheet and its header
func repairSheets(f *excelize.File) error {
	changed := false
	for _, sheet := range []struct {
		name   string
		header *[]interface{}
	}{
		{EntriesSheet, &entriesHeader},
		{PeopleSheet, &peopleHeader},
	} {
		if idx, err := f.GetSheetIndex(sheet.name); err == nil && idx >= 0 {
			continue
		}
		if _, err := f.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("failed to restore sheet %s: %w", sheet.name, err)
		}
		if err := f.SetSheetRow(sheet.name, "A1", sheet.header); err != nil {
			return fmt.Errorf("failed to restore %s header: %w", sheet.name, err)
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return f.Save()
}

// open returns the workbook for one operation. The caller closes it.
func (s *Store) open() (*excelize.File, error) {
	if !s.ensured {
		return nil, fmt.Errorf("workbook not initialized: %w", repository.ErrStoreMissing)
	}
	path := s.Path()
	if _, err := os.Stat(path); err != nil {
		s.ensured = false
		return nil, fmt.Errorf("workbook file vanished: %w", repository.ErrStoreMissing)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrCorruptStore, err)
	}
	return f, nil
}

// UpsertCandidates appends People rows for ids not yet listed
func (s *Store) UpsertCandidates(ctx context.Context, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(PeopleSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("failed to read people: %w", err)
	}

	known := make(map[int64]bool, len(rows))
	for _, row := range rows[min(1, len(rows)):] {
		if len(row) == 0 {
			continue
		}
		if id, ok := parseCandidateID(row[0]); ok {
			known[id] = true
		}
	}

	next := max(len(rows), 1) + 1
	added := 0
	for _, c := range candidates {
		if known[c.ID] {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, next)
		values := []interface{}{c.ID, c.DisplayName}
		if err := f.SetSheetRow(PeopleSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to append candidate %d: %w", c.ID, err)
		}
		known[c.ID] = true
		next++
		added++
	}

	if added == 0 {
		return nil
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// Candidates returns the People sheet in row order
func (s *Store) Candidates(ctx context.Context) ([]domain.Candidate, error) {
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(PeopleSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read people: %w", err)
	}

	var out []domain.Candidate
	for _, row := range rows[min(1, len(rows)):] {
		if len(row) == 0 {
			continue
		}
		id, ok := parseCandidateID(row[0])
		if !ok {
			logging.Warn().Str("value", row[0]).Msg("skipping People row without a numeric id")
			continue
		}
		c := domain.Candidate{ID: id}
		if len(row) > 1 {
			c.DisplayName = row[1]
		}
		out = append(out, c)
	}
	return out, nil
}

// parseCandidateID reads a raw People id cell. Integers are stored exactly;
// a float form only appears in rows edited by hand.
func parseCandidateID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Close is a no-op; the workbook is never held open between calls
func (s *Store) Close() error {
	return nil
}
