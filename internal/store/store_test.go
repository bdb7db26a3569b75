package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{Path: MemoryPath, Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestDeviceRepositoryUpsertCreates(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()

	d, err := repo.Upsert(ctx, Device{DeviceID: "hall", Name: "Hall Dial", IEEEAddress: "0x01"})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "hall", d.DeviceID)

	found, err := repo.FindByDeviceID(ctx, "hall")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, d.ID, found.ID)
	assert.Equal(t, "Hall Dial", found.Name)
}

func TestDeviceRepositoryUpsertKeepsIdentityAndMetadata(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.Upsert(ctx, Device{DeviceID: "hall", Name: "Hall", IEEEAddress: "0x01", Discovered: true})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateMetadata(ctx, "hall", logic.FieldBattery, float64(80), time.Now()))

	second, err := repo.Upsert(ctx, Device{DeviceID: "hall", Model: "RDM002"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Hall", second.Name)
	assert.Equal(t, "0x01", second.IEEEAddress)
	assert.Equal(t, "RDM002", second.Model)
	assert.True(t, second.Discovered)
	require.NotNil(t, second.Battery)
	assert.Equal(t, 80.0, *second.Battery)
}

func TestDeviceRepositoryFindMissing(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	d, err := repo.FindByDeviceID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDeviceRepositoryFindAllOrdered(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"study", "attic", "hall"} {
		_, err := repo.Upsert(ctx, Device{DeviceID: id})
		require.NoError(t, err)
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "attic", all[0].DeviceID)
	assert.Equal(t, "hall", all[1].DeviceID)
	assert.Equal(t, "study", all[2].DeviceID)
}

func TestDeviceRepositoryDelete(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()
	_, err := repo.Upsert(ctx, Device{DeviceID: "hall"})
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, "hall")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, "hall")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeviceRepositoryUpdateMetadata(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()
	_, err := repo.Upsert(ctx, Device{DeviceID: "hall"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateMetadata(ctx, "hall", logic.FieldLinkQuality, float64(144), at))
	require.NoError(t, repo.UpdateMetadata(ctx, "hall", logic.FieldInstalledVersion, "1.122.2", at))
	require.NoError(t, repo.UpdateMetadata(ctx, "hall", logic.FieldLatestVersion, "1.124.0", at))
	require.NoError(t, repo.UpdateMetadata(ctx, "hall", logic.FieldUpdateAvailable, true, at))

	d, err := repo.FindByDeviceID(ctx, "hall")
	require.NoError(t, err)
	require.NotNil(t, d.LinkQuality)
	assert.Equal(t, 144.0, *d.LinkQuality)
	require.NotNil(t, d.InstalledVersion)
	assert.Equal(t, "1.122.2", *d.InstalledVersion)
	require.NotNil(t, d.LatestVersion)
	assert.Equal(t, "1.124.0", *d.LatestVersion)
	require.NotNil(t, d.UpdateAvailable)
	assert.True(t, *d.UpdateAvailable)
	require.NotNil(t, d.LastSeen)
	assert.True(t, at.Equal(*d.LastSeen))
}

func TestDeviceRepositoryUpdateMetadataErrors(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()

	err := repo.UpdateMetadata(ctx, "ghost", logic.FieldBattery, float64(1), time.Now())
	assert.ErrorContains(t, err, "not registered")

	err = repo.UpdateMetadata(ctx, "ghost", logic.MetadataField("color"), "red", time.Now())
	assert.ErrorContains(t, err, "unknown metadata field")
}

func TestRecorderPersistsMetadata(t *testing.T) {
	repo := NewDeviceRepository(setupTestDB(t))
	ctx := context.Background()
	_, err := repo.Upsert(ctx, Device{DeviceID: "hall"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(repo, quiet, func() time.Time { return at })
	logic.Dispatch(rec, "hall", logic.Result{
		Event:    &logic.Event{Kind: logic.KindButton, Button: &logic.ButtonEvent{Button: 1, Press: logic.PressShort}},
		Metadata: []logic.MetadataUpdate{{Field: logic.FieldBattery, Value: float64(42)}},
	})
	// Unregistered devices are logged, not fatal.
	rec.OnMetadataUpdate("ghost", logic.FieldBattery, float64(1))

	d, err := repo.FindByDeviceID(ctx, "hall")
	require.NoError(t, err)
	require.NotNil(t, d.Battery)
	assert.Equal(t, 42.0, *d.Battery)
	require.NotNil(t, d.LastSeen)
	assert.True(t, at.Equal(*d.LastSeen))
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tapdial.db")
	db, err := Open(Config{Path: "file:" + path, Logger: quiet})
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, Ping(context.Background(), db))
	_, err = NewDeviceRepository(db).Upsert(context.Background(), Device{DeviceID: "hall"})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

type countingWriter struct {
	touches  int
	metadata int
}

func (c *countingWriter) UpdateMetadata(context.Context, string, logic.MetadataField, any, time.Time) error {
	c.metadata++
	return nil
}

func (c *countingWriter) Touch(context.Context, string, time.Time) error {
	c.touches++
	return nil
}

func TestRecorderThrottlesTouches(t *testing.T) {
	w := &countingWriter{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(w, quiet, func() time.Time { return at })

	for i := 0; i < 50; i++ {
		rec.OnDialEvent("hall", logic.DialEvent{Direction: logic.DirectionUp, Delta: 4, AbsDelta: 4})
	}
	rec.OnButtonEvent("den", logic.ButtonEvent{Button: 1, Press: logic.PressShort})
	assert.Equal(t, 2, w.touches, "one touch per device within the interval")

	at = at.Add(touchInterval)
	rec.OnDialEvent("hall", logic.DialEvent{Direction: logic.DirectionDown, Delta: -4, AbsDelta: 4})
	assert.Equal(t, 3, w.touches)

	// A metadata write also refreshes last_seen, so the next event waits.
	at = at.Add(touchInterval)
	rec.OnMetadataUpdate("hall", logic.FieldBattery, float64(50))
	rec.OnCombinedEvent("hall", logic.CombinedEvent{HeldButton: 2, Direction: logic.DirectionUp, Delta: 3, AbsDelta: 3})
	assert.Equal(t, 1, w.metadata)
	assert.Equal(t, 3, w.touches)
}
