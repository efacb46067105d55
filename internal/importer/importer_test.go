package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"nestsync/internal/domain"
	"nestsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]models.RemoteRecord
	deletes []string
	failIDs map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]models.RemoteRecord), failIDs: make(map[string]bool)}
}

func (s *fakeStore) Upsert(ctx context.Context, rec *models.RemoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[rec.ID] {
		return errors.New("write rejected")
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *fakeStore) DeleteOwner(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, ownerID)
	for id, rec := range s.records {
		if rec.OwnerID == ownerID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *fakeStore) Write(ctx context.Context, op *models.QueuedOperation) error { return nil }
func (s *fakeStore) Health(ctx context.Context) error                            { return nil }
func (s *fakeStore) Subscribe(ctx context.Context, ownerID string) (domain.Subscription, error) {
	return nil, errors.New("not implemented")
}

func newTestImporter(store *fakeStore) *Importer {
	logger := zerolog.New(os.Stdout)
	return New(store, &logger)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, mode)

	mode, err = ParseMode("REPLACE")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, mode)

	_, err = ParseMode("upsert")
	assert.Error(t, err)
}

func TestApplyMergeOverwrites(t *testing.T) {
	store := newFakeStore()
	store.records["r1"] = models.RemoteRecord{ID: "r1", OwnerID: "family-1", Data: `{"old":true}`}
	store.records["keep"] = models.RemoteRecord{ID: "keep", OwnerID: "family-1", Data: `{}`}

	imp := newTestImporter(store)
	report, err := imp.Apply(context.Background(), "family-1", []models.RemoteRecord{
		{ID: "r1", Type: "recipe", Data: `{"new":true}`},
		{ID: "r2", Type: "note", Data: `{}`},
	}, ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, store.deletes, "merge never clears the collection")

	assert.Len(t, store.records, 3, "untouched records survive a merge")
	assert.Equal(t, `{"new":true}`, store.records["r1"].Data, "colliding id is overwritten")
	assert.Equal(t, "family-1", store.records["r2"].OwnerID)
}

func TestApplyReplaceClearsFirst(t *testing.T) {
	store := newFakeStore()
	store.records["stale"] = models.RemoteRecord{ID: "stale", OwnerID: "family-1", Data: `{}`}

	imp := newTestImporter(store)
	report, err := imp.Apply(context.Background(), "family-1", []models.RemoteRecord{
		{ID: "r1", Type: "recipe", Data: `{}`},
	}, ModeReplace)
	require.NoError(t, err)

	assert.Equal(t, []string{"family-1"}, store.deletes)
	assert.Equal(t, 1, report.Applied)
	_, stale := store.records["stale"]
	assert.False(t, stale, "replace drops the previous collection")
}

func TestApplyContinuesPastFailures(t *testing.T) {
	store := newFakeStore()
	store.failIDs["bad"] = true

	imp := newTestImporter(store)
	report, err := imp.Apply(context.Background(), "family-1", []models.RemoteRecord{
		{ID: "bad", Type: "note", Data: `{}`},
		{ID: "good", Type: "note", Data: `{}`},
	}, ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "bad")
	assert.Contains(t, store.records, "good")
}

func TestApplyAssignsIDs(t *testing.T) {
	store := newFakeStore()
	imp := newTestImporter(store)

	report, err := imp.Apply(context.Background(), "family-1", []models.RemoteRecord{
		{Type: "note", Data: `{}`},
	}, ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Len(t, store.records, 1)
	for id := range store.records {
		assert.NotEmpty(t, id)
	}
}

func TestApplyUnknownMode(t *testing.T) {
	imp := newTestImporter(newFakeStore())
	_, err := imp.Apply(context.Background(), "family-1", nil, Mode("upsert"))
	assert.Error(t, err)
}

func TestImportJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "r1", "type": "recipe", "data": "{\"name\":\"puree\"}"},
		{"id": "r2", "type": "note", "data": "{}"}
	]`), 0o644))

	store := newFakeStore()
	imp := newTestImporter(store)
	report, err := imp.ImportFile(context.Background(), path, "family-1", ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, "recipe", store.records["r1"].Type)
}

func TestImportXLSXFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"id", "type", "updated_at", "data"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"r1", "recipe", "2026-08-01T10:00:00Z", `{"name":"puree"}`}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]string{"r2", "note", "", `{}`}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	store := newFakeStore()
	imp := newTestImporter(store)
	report, err := imp.ImportFile(context.Background(), path, "family-1", ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 2026, store.records["r1"].UpdatedAt.Year())
	assert.False(t, store.records["r2"].UpdatedAt.IsZero(), "missing timestamp defaults to now")
}

func TestImportXLSXMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"id", "type"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	imp := newTestImporter(newFakeStore())
	_, err := imp.ImportFile(context.Background(), path, "family-1", ModeMerge)
	assert.ErrorContains(t, err, "data")
}

func TestImportUnsupportedFormat(t *testing.T) {
	imp := newTestImporter(newFakeStore())
	_, err := imp.ImportFile(context.Background(), "data.csv", "family-1", ModeMerge)
	assert.ErrorContains(t, err, "unsupported")
}
