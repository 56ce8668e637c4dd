package xlsx

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ellen/internal/domain"
	"ellen/internal/imaging"
	"ellen/internal/logging"
)

// Entry is an Entries row read back from the workbook
type Entry struct {
	Row        int
	ID         string
	Timestamp  time.Time
	EventType  string
	PersonID   *int64
	Confidence *float64
	FullBlob   string

	// Picture is the thumbnail anchored in the row's image column, if any
	Picture *excelize.Picture
}

// AppendEvent writes one Entries row and embeds the event thumbnail
func (s *Store) AppendEvent(ctx context.Context, event *domain.Event) error {
	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(EntriesSheet)
	if err != nil {
		return fmt.Errorf("failed to read entries: %w", err)
	}
	row := max(len(rows), 1) + 1

	if err := s.writeEntry(f, row, event); err != nil {
		return err
	}

	var thumbPath string
	if s.opts.StoreImage && event.Image != nil && len(event.Image.Data) > 0 {
		thumbPath, err = s.embedThumbnail(f, row, event)
		if err != nil {
			// The event row is still worth keeping without its picture
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("skipping event image")
		}
	}
	if thumbPath != "" {
		defer os.Remove(thumbPath)
	}

	if err := f.SetRowHeight(EntriesSheet, row, imaging.PixelsToPoints(imaging.ThumbnailSize)); err != nil {
		return fmt.Errorf("failed to set row height: %w", err)
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (s *Store) writeEntry(f *excelize.File, row int, event *domain.Event) error {
	cell := func(col string) string { return col + strconv.Itoa(row) }

	set := func(col string, v interface{}) error {
		if err := f.SetCellValue(EntriesSheet, cell(col), v); err != nil {
			return fmt.Errorf("failed to write %s: %w", cell(col), err)
		}
		return nil
	}

	if err := set("A", event.ID); err != nil {
		return err
	}
	if err := set("B", s.opts.TimeZone.WallClock(event.Timestamp)); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(timestampFormat)})
	if err != nil {
		return fmt.Errorf("failed to create timestamp style: %w", err)
	}
	if err := f.SetCellStyle(EntriesSheet, cell("B"), cell("B"), style); err != nil {
		return fmt.Errorf("failed to style timestamp: %w", err)
	}
	if err := set("C", event.EventType); err != nil {
		return err
	}
	if id := event.PersonID(); id != nil {
		if err := set("D", *id); err != nil {
			return err
		}
	}
	if score := event.Confidence(); score != nil {
		if err := set("E", *score); err != nil {
			return err
		}
	}
	if s.opts.StoreFullPayload && len(event.RawPayload) > 0 {
		if err := f.SetCellStr(EntriesSheet, cell("G"), string(event.RawPayload)); err != nil {
			return fmt.Errorf("failed to write %s: %w", cell("G"), err)
		}
	}
	return nil
}

// embedThumbnail writes the resized image to the data directory and anchors
// it in the row's image column. It returns the temporary file path.
func (s *Store) embedThumbnail(f *excelize.File, row int, event *domain.Event) (string, error) {
	thumb, ext, err := imaging.Thumbnail(event.Image.Data, imaging.ThumbnailSize)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.opts.DataDirectory, "img")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	path := filepath.Join(dir, event.FileSafeID()+"."+ext)
	if err := os.WriteFile(path, thumb, 0644); err != nil {
		return "", fmt.Errorf("failed to write thumbnail: %w", err)
	}

	anchor := ImageColumn + strconv.Itoa(row)
	if err := f.AddPicture(EntriesSheet, anchor, path, &excelize.GraphicOptions{AltText: event.ID}); err != nil {
		return path, fmt.Errorf("failed to embed thumbnail at %s: %w", anchor, err)
	}
	return path, nil
}

// Count returns the number of Entries data rows
func (s *Store) Count(ctx context.Context) (int, error) {
	f, err := s.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := f.GetRows(EntriesSheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read entries: %w", err)
	}
	return max(len(rows)-1, 0), nil
}

// Entries returns every Entries data row with its anchored picture
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a, err := loadArena(f)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(a.records))
	for _, rec := range a.records {
		e := rec.entry(s.opts.TimeZone)
		if a.pictures[rec.row] {
			pics, err := f.GetPictures(EntriesSheet, ImageColumn+strconv.Itoa(rec.row))
			if err != nil {
				return nil, fmt.Errorf("failed to read picture in row %d: %w", rec.row, err)
			}
			if len(pics) > 0 {
				e.Picture = &pics[0]
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// parseCellTime reads a timestamp cell stored as an Excel serial number.
// Text cells in the wire layout are accepted for rows typed in by hand.
func parseCellTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial < 61 {
			// Serials before 1900-03-01 go through the leap year Excel invented
			t, err := excelize.ExcelDateToTime(serial, false)
			return t, err == nil
		}
		ms := math.Round(serial * float64(24*time.Hour/time.Millisecond))
		return excelEpoch.Add(time.Duration(ms) * time.Millisecond), true
	}
	for _, layout := range []string{"2006-01-02 15:04:05.000", "2006-01-02 15:04:05", domain.TimestampLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// excelEpoch is serial day zero of the 1900 date system
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }
