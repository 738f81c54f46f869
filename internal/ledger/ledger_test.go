package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordkart/vendorsync/pkg/mapbox"
)

func openLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))
	return l, path
}

func TestRunLifecycle(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, "sheet:abc123")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, l.CompleteRun(ctx, run.ID, map[string]int{"created": 3}))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	assert.JSONEq(t, `{"created":3}`, string(got.Summary))
	assert.NotNil(t, got.FinishedAt)
}

func TestFailRun(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, "sheet:abc123")
	require.NoError(t, err)
	require.NoError(t, l.FailRun(ctx, run.ID, assert.AnError))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestCompleteUnknownRun(t *testing.T) {
	l, _ := openLedger(t)
	err := l.CompleteRun(context.Background(), "no-such-run", nil)
	require.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	first, err := l.StartRun(ctx, "a")
	require.NoError(t, err)
	second, err := l.StartRun(ctx, "b")
	require.NoError(t, err)

	runs, err := l.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}

func TestGeocodeCacheRoundTrip(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	_, found, err := l.GetGeocode(ctx, "Strandveien 12, 4100, Jørpeland")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, l.PutGeocode(ctx, "Strandveien 12, 4100, Jørpeland", &mapbox.Point{Lat: 59.02, Lng: 6.04}))

	point, found, err := l.GetGeocode(ctx, "Strandveien 12, 4100, Jørpeland")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, point)
	assert.InDelta(t, 59.02, point.Lat, 1e-9)
	assert.InDelta(t, 6.04, point.Lng, 1e-9)
}

func TestGeocodeCacheRemembersMisses(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	require.NoError(t, l.PutGeocode(ctx, "Ukjent vei 1, 0000, Ingensteds", nil))

	point, found, err := l.GetGeocode(ctx, "Ukjent vei 1, 0000, Ingensteds")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, point)
}

func TestGeocodeCacheOverwrite(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	require.NoError(t, l.PutGeocode(ctx, "Strandveien 12", nil))
	require.NoError(t, l.PutGeocode(ctx, "Strandveien 12", &mapbox.Point{Lat: 59, Lng: 6}))

	point, found, err := l.GetGeocode(ctx, "Strandveien 12")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, point)
}

func TestPruneGeocodes(t *testing.T) {
	l, path := openLedger(t)
	ctx := context.Background()

	require.NoError(t, l.PutGeocode(ctx, "Strandveien 12", &mapbox.Point{Lat: 59, Lng: 6}))

	// Age the entry through a second connection.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	_, err = db.Exec(`UPDATE geocode_cache SET expires_at = datetime('now', '-1 day')`)
	require.NoError(t, err)

	n, err := l.PruneGeocodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := l.GetGeocode(ctx, "Strandveien 12")
	require.NoError(t, err)
	assert.False(t, found)
}
