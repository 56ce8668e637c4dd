package xlsx

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"ellen/internal/domain"
	"ellen/internal/imaging"
	"ellen/internal/repository"
	"ellen/internal/retention"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, policy retention.Policy) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New()
	opts := repository.DefaultOptions()
	opts.OutputDirectory = dir
	opts.DataDirectory = filepath.Join(dir, "data")
	opts.Retention = policy
	opts.StoreFullPayload = true
	opts.Clock = retention.FixedClock(testNow)
	s.Configure(opts)

	created, err := s.Ensure(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	return s
}

func pngOf(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func thumbOf(t *testing.T, data []byte) []byte {
	t.Helper()
	out, _, err := imaging.Thumbnail(data, imaging.ThumbnailSize)
	require.NoError(t, err)
	return out
}

func event(id string, ts time.Time, image []byte, candidates ...domain.Candidate) *domain.Event {
	e := domain.NewEvent(id, ts, "FaceRecognized", candidates)
	if image != nil {
		e.Image = &domain.Image{Kind: domain.ImageKindFace, Extension: "png", FileName: id + ".png", Data: image}
	}
	return e
}

func entryIDs(t *testing.T, s *Store) []string {
	t.Helper()
	entries, err := s.Entries(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestEnsureCreatesLayout(t *testing.T) {
	s := newTestStore(t, retention.Policy{})

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{EntriesSheet, PeopleSheet}, f.GetSheetList())

	entries, err := f.GetRows(EntriesSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"GorillaId", "Timestamp", "Event Type", "PersonId", "Confidence", "Image", "FullBlob"}}, entries)

	people, err := f.GetRows(PeopleSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"BAPId", "Display Name"}}, people)
}

func TestEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})
	require.NoError(t, s.UpsertCandidates(ctx, []domain.Candidate{{ID: 1, DisplayName: "Ann"}}))
	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, nil)))

	for i := 0; i < 2; i++ {
		created, err := s.Ensure(ctx)
		require.NoError(t, err)
		assert.False(t, created)
	}

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList(), 2)

	assert.Equal(t, []string{"e1"}, entryIDs(t, s))
	people, err := s.Candidates(ctx)
	require.NoError(t, err)
	assert.Len(t, people, 1)
}

func TestEnsureReplacesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("not a zip archive"), 0644))

	s := New()
	opts := repository.DefaultOptions()
	opts.OutputDirectory = dir
	s.Configure(opts)

	created, err := s.Ensure(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureRestoresMissingSheet(t *testing.T) {
	s := newTestStore(t, retention.Policy{})

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	require.NoError(t, f.DeleteSheet(PeopleSheet))
	require.NoError(t, f.Save())
	require.NoError(t, f.Close())

	created, err := s.Ensure(context.Background())
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, s.UpsertCandidates(context.Background(), []domain.Candidate{{ID: 2}}))
}

func TestAppendBeforeEnsure(t *testing.T) {
	s := New()
	s.Configure(repository.Options{OutputDirectory: t.TempDir()})

	err := s.AppendEvent(context.Background(), event("e1", testNow, nil))
	assert.ErrorIs(t, err, repository.ErrStoreMissing)
}

func TestAppendAfterFileVanished(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})
	require.NoError(t, os.Remove(s.Path()))

	err := s.AppendEvent(ctx, event("e1", testNow, nil))
	require.ErrorIs(t, err, repository.ErrStoreMissing)

	created, err := s.Ensure(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, nil)))
}

func TestUpsertCandidatesFirstNameWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})

	require.NoError(t, s.UpsertCandidates(ctx, nil))
	require.NoError(t, s.UpsertCandidates(ctx, []domain.Candidate{{ID: 7, DisplayName: "First"}, {ID: 7, DisplayName: "Same batch"}}))
	require.NoError(t, s.UpsertCandidates(ctx, []domain.Candidate{{ID: 7, DisplayName: "Second"}, {ID: 9, DisplayName: "Nine"}}))

	got, err := s.Candidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{
		{ID: 7, DisplayName: "First"},
		{ID: 9, DisplayName: "Nine"},
	}, got)
}

func TestUpsertCandidatesLargeIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})
	const big = int64(1234567890123456789)

	require.NoError(t, s.UpsertCandidates(ctx, []domain.Candidate{{ID: big, DisplayName: "first"}}))
	require.NoError(t, s.UpsertCandidates(ctx, []domain.Candidate{{ID: big, DisplayName: "second"}}))

	got, err := s.Candidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{{ID: big, DisplayName: "first"}}, got)

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(PeopleSheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1234567890123456789", rows[1][0])
}

func TestAppendEventRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})

	score := 0.875
	c := domain.Candidate{ID: 12, DisplayName: "Dee", SimilarityScore: &score}
	img := pngOf(t, color.RGBA{R: 255, A: 255})
	ev := event("{guid-1}", testNow.Add(1500*time.Millisecond), img, c)
	ev.RawPayload = []byte(`{"id":"{guid-1}"}`)

	require.NoError(t, s.AppendEvent(ctx, ev))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, 2, got.Row)
	assert.Equal(t, "{guid-1}", got.ID)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp), "timestamp %s", got.Timestamp)
	assert.Equal(t, "FaceRecognized", got.EventType)
	require.NotNil(t, got.PersonID)
	assert.Equal(t, int64(12), *got.PersonID)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.875, *got.Confidence, 1e-9)
	assert.Equal(t, `{"id":"{guid-1}"}`, got.FullBlob)
	require.NotNil(t, got.Picture)
	assert.Equal(t, thumbOf(t, img), got.Picture.File)

	// Thumbnail is only a staging file
	_, err = os.Stat(filepath.Join(s.opts.DataDirectory, "img", "guid-1.png"))
	assert.True(t, os.IsNotExist(err))

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	defer f.Close()
	height, err := f.GetRowHeight(EntriesSheet, 2)
	require.NoError(t, err)
	assert.InDelta(t, 48.0, height, 0.01)
}

func TestAppendEventWithoutScore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})

	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, nil, domain.Candidate{ID: 4})))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Confidence)
	require.NotNil(t, entries[0].PersonID)
	assert.Nil(t, entries[0].Picture)
}

func TestAppendEventSkipsUndecodableImage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})

	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, []byte("garbage"))))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Picture)
}

func TestAppendEventImageDisabled(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{})
	opts := s.opts
	opts.StoreImage = false
	s.Configure(opts)

	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, pngOf(t, color.White))))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Picture)
}

func TestPruneByCountKeepsPicturesAligned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxRecordCount: 2})

	red := pngOf(t, color.RGBA{R: 255, A: 255})
	blue := pngOf(t, color.RGBA{B: 255, A: 255})
	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, red)))
	require.NoError(t, s.AppendEvent(ctx, event("e2", testNow, nil)))
	require.NoError(t, s.AppendEvent(ctx, event("e3", testNow, blue)))

	result, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.False(t, result.RolledOver())

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "e2", entries[0].ID)
	assert.Nil(t, entries[0].Picture)

	assert.Equal(t, "e3", entries[1].ID)
	assert.Equal(t, 3, entries[1].Row)
	require.NotNil(t, entries[1].Picture)
	assert.Equal(t, thumbOf(t, blue), entries[1].Picture.File)
}

func TestPruneByCountRemovesOldestRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxRecordCount: 3})

	img := pngOf(t, color.RGBA{G: 255, A: 255})
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, s.AppendEvent(ctx, event(id, testNow, img)))
	}

	result, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Removed)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, []string{"d", "e", "f"}[i], e.ID)
		assert.Equal(t, i+2, e.Row)
		assert.NotNil(t, e.Picture, "row %d lost its picture", e.Row)
	}
}

func TestPruneByAge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxKeepDays: 30})
	cutoff := testNow.AddDate(0, 0, -30)

	require.NoError(t, s.AppendEvent(ctx, event("old", cutoff.Add(-48*time.Hour), nil)))
	require.NoError(t, s.AppendEvent(ctx, event("boundary", cutoff, nil)))
	require.NoError(t, s.AppendEvent(ctx, event("fresh", cutoff.Add(time.Minute), pngOf(t, color.Black))))
	require.NoError(t, s.AppendEvent(ctx, event("today", testNow, nil)))

	result, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Removed)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fresh", entries[0].ID)
	assert.NotNil(t, entries[0].Picture)
	assert.Equal(t, "today", entries[1].ID)
}

func TestPruneRollsOverOversizedWorkbook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxSizeMegabytes: 1})
	dir := s.opts.OutputDirectory

	// An earlier rollover from the same day
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ellen-2024-06-15.1.xlsx"), nil, 0644))

	inflate(t, s.Path(), 2_000_000)

	result, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
	require.True(t, result.RolledOver())
	assert.Regexp(t, regexp.MustCompile(`^ellen-\d{4}-\d{2}-\d{2}\.\d+\.xlsx$`), result.RolloverFile)
	assert.Equal(t, "ellen-2024-06-15.2.xlsx", result.RolloverFile)

	_, err = os.Stat(filepath.Join(dir, result.RolloverFile))
	assert.NoError(t, err)
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	err = s.AppendEvent(ctx, event("after", testNow, nil))
	assert.ErrorIs(t, err, repository.ErrStoreMissing)

	created, err := s.Ensure(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruneRolloverSkipsTakenName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxSizeMegabytes: 1})
	dir := s.opts.OutputDirectory

	// .1 was archived elsewhere; .2 is still here and must survive
	earlier := filepath.Join(dir, "ellen-2024-06-15.2.xlsx")
	require.NoError(t, os.WriteFile(earlier, []byte("EARLIER ROLLOVER DATA"), 0644))

	inflate(t, s.Path(), 1_200_000)

	result, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ellen-2024-06-15.3.xlsx", result.RolloverFile)

	data, err := os.ReadFile(earlier)
	require.NoError(t, err)
	assert.Equal(t, "EARLIER ROLLOVER DATA", string(data))
	assert.FileExists(t, filepath.Join(dir, result.RolloverFile))
}

func TestPruneRolloverRenameFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxSizeMegabytes: 1})
	inflate(t, s.Path(), 1_200_000)

	renameFile = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrPermission}
	}
	t.Cleanup(func() { renameFile = os.Rename })

	result, err := s.Prune(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrRollover)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.False(t, result.RolledOver())
	assert.FileExists(t, s.Path())

	// The workbook stays usable after a failed rollover
	require.NoError(t, s.AppendEvent(ctx, event("after", testNow, nil)))
}

func TestPruneUnderSizeLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, retention.Policy{MaxSizeMegabytes: 1})
	require.NoError(t, s.AppendEvent(ctx, event("e1", testNow, nil)))

	result, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.False(t, result.RolledOver())
	assert.FileExists(t, s.Path())
}

// inflate fills the FullBlob column with incompressible text until the
// workbook on disk is at least size bytes.
func inflate(t *testing.T, path string, size int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	chunk := make([]byte, 24_000)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	for row := 2; ; row++ {
		rng.Read(chunk)
		require.NoError(t, f.SetCellStr(EntriesSheet, "A"+itoa(row), "pad"))
		require.NoError(t, f.SetCellStr(EntriesSheet, "G"+itoa(row), base64.StdEncoding.EncodeToString(chunk)))
		if row%20 != 0 {
			continue
		}
		require.NoError(t, f.Save())
		info, err := os.Stat(path)
		require.NoError(t, err)
		if info.Size() >= size {
			return
		}
	}
}
