package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ellen/internal/domain"
	"ellen/internal/logging"
	"ellen/internal/repository"
)

// ============================================================================
// Arena
// ============================================================================
//
// Row removal shifts every row below it, and pictures are anchored by cell
// reference. The Entries sheet is therefore loaded into an ordered list of
// records plus a side table of rows carrying a picture, the full set of
// removals and picture moves is planned against that snapshot, and only then
// is the workbook mutated.

// record is one Entries data row
type record struct {
	row        int
	id         string
	timestamp  time.Time // wall clock, labelled UTC
	hasTime    bool
	eventType  string
	personID   *int64
	confidence *float64
	fullBlob   string
}

type arena struct {
	records []record

	// pictures marks sheet rows with a picture in the image column
	pictures map[int]bool
}

func loadArena(f *excelize.File) (*arena, error) {
	rows, err := f.GetRows(EntriesSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	a := &arena{pictures: make(map[int]bool)}
	for i := 1; i < len(rows); i++ {
		a.records = append(a.records, parseRecord(i+1, rows[i]))
	}

	cells, err := f.GetPictureCells(EntriesSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to list pictures: %w", err)
	}
	imageCol, _ := excelize.ColumnNameToNumber(ImageColumn)
	for _, cell := range cells {
		col, row, err := excelize.CellNameToCoordinates(cell)
		if err != nil || col != imageCol {
			continue
		}
		a.pictures[row] = true
	}
	return a, nil
}

func parseRecord(row int, cells []string) record {
	col := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	r := record{row: row, id: col(0), eventType: col(2), fullBlob: col(6)}
	r.timestamp, r.hasTime = parseCellTime(col(1))
	if id, err := strconv.ParseInt(col(3), 10, 64); err == nil {
		r.personID = &id
	}
	if score, err := strconv.ParseFloat(col(4), 64); err == nil {
		r.confidence = &score
	}
	return r
}

func (r record) entry(zone domain.TimeZone) Entry {
	e := Entry{
		Row:        r.row,
		ID:         r.id,
		EventType:  r.eventType,
		PersonID:   r.personID,
		Confidence: r.confidence,
		FullBlob:   r.fullBlob,
	}
	if r.hasTime {
		t := r.timestamp
		e.Timestamp = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone.Location())
	}
	return e
}

// ============================================================================
// Compaction plan
// ============================================================================

type pictureMove struct {
	from, to int
}

type compactionPlan struct {
	// remove lists sheet rows to delete, ascending
	remove []int

	// drop lists rows whose picture is deleted along with the row
	drop []int

	// moves re-anchors pictures of kept rows below a removed row
	moves []pictureMove
}

// planCompaction computes every removal and picture move up front. keep is
// indexed like a.records.
func planCompaction(a *arena, keep []bool) compactionPlan {
	var plan compactionPlan
	removed := 0
	for i, rec := range a.records {
		hasPicture := a.pictures[rec.row]
		if !keep[i] {
			plan.remove = append(plan.remove, rec.row)
			if hasPicture {
				plan.drop = append(plan.drop, rec.row)
			}
			removed++
			continue
		}
		if removed > 0 && hasPicture {
			plan.moves = append(plan.moves, pictureMove{from: rec.row, to: rec.row - removed})
		}
	}
	return plan
}

func anchor(row int) string {
	return ImageColumn + strconv.Itoa(row)
}

// apply mutates the workbook according to the plan. Pictures that move are
// lifted out before any row is removed and put back at their new rows
// afterwards.
func (p compactionPlan) apply(f *excelize.File) error {
	for _, row := range p.drop {
		if err := f.DeletePicture(EntriesSheet, anchor(row)); err != nil {
			return fmt.Errorf("failed to delete picture at %s: %w", anchor(row), err)
		}
	}

	lifted := make([][]excelize.Picture, len(p.moves))
	for i, m := range p.moves {
		pics, err := f.GetPictures(EntriesSheet, anchor(m.from))
		if err != nil {
			return fmt.Errorf("failed to read picture at %s: %w", anchor(m.from), err)
		}
		lifted[i] = pics
		if err := f.DeletePicture(EntriesSheet, anchor(m.from)); err != nil {
			return fmt.Errorf("failed to delete picture at %s: %w", anchor(m.from), err)
		}
	}

	// Bottom-up so the remaining row numbers in the plan stay valid
	for i := len(p.remove) - 1; i >= 0; i-- {
		if err := f.RemoveRow(EntriesSheet, p.remove[i]); err != nil {
			return fmt.Errorf("failed to remove row %d: %w", p.remove[i], err)
		}
	}

	for i, m := range p.moves {
		for _, pic := range lifted[i] {
			pic := pic
			if err := f.AddPictureFromBytes(EntriesSheet, anchor(m.to), &pic); err != nil {
				return fmt.Errorf("failed to re-anchor picture at %s: %w", anchor(m.to), err)
			}
		}
	}
	return nil
}

// compact deletes every row keep leaves unmarked, in one rewrite
func (s *Store) compact(reason string, keep func(records []record) []bool) (int, error) {
	f, err := s.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	a, err := loadArena(f)
	if err != nil {
		return 0, err
	}

	plan := planCompaction(a, keep(a.records))
	if len(plan.remove) == 0 {
		return 0, nil
	}

	if err := plan.apply(f); err != nil {
		return 0, err
	}
	if err := f.Save(); err != nil {
		return 0, fmt.Errorf("failed to save workbook: %w", err)
	}

	logging.Debug().
		Str("reason", reason).
		Int("removed", len(plan.remove)).
		Int("pictures_moved", len(plan.moves)).
		Msg("compacted entries")
	return len(plan.remove), nil
}

// ============================================================================
// Prune
// ============================================================================

// Prune removes rows over the record limit, then rows past the age limit,
// then rolls the whole workbook over if it is still larger than the size
// limit. Each step sees the state the previous one left.
func (s *Store) Prune(ctx context.Context) (repository.PruneResult, error) {
	var result repository.PruneResult
	if _, err := s.Ensure(ctx); err != nil {
		return result, err
	}

	policy := s.opts.Retention

	n, err := s.compact("count", func(records []record) []bool {
		excess := policy.Excess(len(records))
		keep := make([]bool, len(records))
		for i := range records {
			keep[i] = i >= excess
		}
		return keep
	})
	if err != nil {
		return result, err
	}
	result.Removed += n

	if cutoff, ok := policy.Cutoff(s.opts.Now()); ok {
		wall := s.opts.TimeZone.WallClock(cutoff)
		n, err := s.compact("age", func(records []record) []bool {
			keep := make([]bool, len(records))
			for i, r := range records {
				// Rows without a readable timestamp are never aged out
				keep[i] = !r.hasTime || r.timestamp.After(wall)
			}
			return keep
		})
		if err != nil {
			return result, err
		}
		result.Removed += n
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		return result, fmt.Errorf("failed to stat workbook: %w", err)
	}
	if policy.Oversized(info.Size()) {
		name, err := s.rollover()
		if err != nil {
			return result, err
		}
		result.RolloverFile = name
	}

	if result.Removed > 0 || result.RolledOver() {
		logging.Info().
			Int("removed", result.Removed).
			Str("rollover", result.RolloverFile).
			Str("path", s.Path()).
			Msg("pruned workbook")
	}
	return result, nil
}

// ============================================================================
// Rollover
// ============================================================================

const rolloverPrefix = "ellen-"

// rolloverName returns ellen-YYYY-MM-DD.N.xlsx. N starts one past the
// number of existing names sharing the date prefix and skips any name
// already taken.
func rolloverName(day time.Time, existing []string) string {
	prefix := rolloverPrefix + day.Format("2006-01-02")
	taken := make(map[string]bool, len(existing))
	n := 1
	for _, name := range existing {
		taken[name] = true
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	for ; ; n++ {
		name := fmt.Sprintf("%s.%d.xlsx", prefix, n)
		if !taken[name] {
			return name
		}
	}
}

// renameFile moves the workbook aside; replaced in tests
var renameFile = os.Rename

// rollover renames the workbook aside. The next Ensure creates a fresh one.
func (s *Store) rollover() (string, error) {
	dir := filepath.Dir(s.Path())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list output directory: %w", errors.Join(repository.ErrRollover, err))
	}
	existing := make([]string, 0, len(entries))
	for _, e := range entries {
		existing = append(existing, e.Name())
	}

	name := rolloverName(s.opts.TimeZone.Convert(s.opts.Now()), existing)
	target := filepath.Join(dir, name)
	if _, err := os.Lstat(target); err == nil {
		return "", fmt.Errorf("rollover target %s appeared: %w", name, repository.ErrRollover)
	}
	if err := renameFile(s.Path(), target); err != nil {
		return "", fmt.Errorf("failed to rename workbook to %s: %w", name, errors.Join(repository.ErrRollover, err))
	}
	s.ensured = false
	return name, nil
}
