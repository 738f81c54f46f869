package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordkart/vendorsync/internal/fetcher"
	"github.com/nordkart/vendorsync/internal/ledger"
	"github.com/nordkart/vendorsync/internal/reconcile"
	"github.com/nordkart/vendorsync/internal/refcache"
	"github.com/nordkart/vendorsync/internal/resolver"
	"github.com/nordkart/vendorsync/internal/transform"
	"github.com/nordkart/vendorsync/internal/upsert"
	"github.com/nordkart/vendorsync/pkg/bring"
	"github.com/nordkart/vendorsync/pkg/mapbox"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// fakeClient answers every query with an empty result, so the pipeline
// treats the store as freshly initialized.
type fakeClient struct {
	mu      sync.Mutex
	commits []*sanity.Tx
}

func (f *fakeClient) Fetch(_ context.Context, _ string, _ map[string]any, result any) error {
	return json.Unmarshal([]byte("null"), result)
}

func (f *fakeClient) Commit(_ context.Context, tx *sanity.Tx) (*sanity.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, tx)
	return &sanity.CommitResult{}, nil
}

type stubPostal struct{}

func (stubPostal) Lookup(context.Context, string) (*bring.PostalInfo, error) {
	return &bring.PostalInfo{City: "Jørpeland", Municipality: "Strand", County: "Rogaland"}, nil
}

type stubGeocoder struct{}

func (stubGeocoder) Geocode(context.Context, string) (*mapbox.Point, error) {
	return &mapbox.Point{Lat: 59.02, Lng: 6.04}, nil
}

func writeSourceCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kunder.csv")
	csv := "KUNDENR,KUNDENAVN,K_Adresse,K_PostNr,K_PostSted,PRODUKTNAVN\n" +
		"101,Fjordfrukt AS,Strandveien 12,4100,Jørpeland,Eplemost 0.5l\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0644))
	return path
}

func newPipeline(client sanity.Client, opts ...Option) *Pipeline {
	res := resolver.New(refcache.New(), client)
	return New(
		fetcher.NewReader(nil, nil),
		transform.New(res),
		upsert.New(client, upsert.PolicyRetainClearProducts),
		reconcile.New(client, res, stubPostal{}, stubGeocoder{}),
		client,
		opts...,
	)
}

func TestRunFullSync(t *testing.T) {
	client := &fakeClient{}
	summary, err := newPipeline(client).Run(context.Background(), fetcher.Source{URL: writeSourceCSV(t)})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RowsFetched)
	assert.Equal(t, 1, summary.VendorsResolved)
	require.NotNil(t, summary.Upsert)
	assert.Equal(t, 1, summary.Upsert.Created)
	require.NotNil(t, summary.Reconcile)
	require.NotNil(t, summary.Counts)
	require.NotNil(t, summary.Bounds)

	require.Len(t, summary.Stages, 7)
	for _, stage := range summary.Stages {
		assert.Equal(t, StageComplete, stage.Status, stage.Name)
	}
	names := make([]string, len(summary.Stages))
	for i, stage := range summary.Stages {
		names[i] = stage.Name
	}
	assert.Equal(t, []string{"fetch", "transform", "upsert", "reconcile", "repair", "counts", "bounds"}, names)
}

func TestRunFetchFailureAborts(t *testing.T) {
	client := &fakeClient{}
	summary, err := newPipeline(client).Run(context.Background(),
		fetcher.Source{URL: "/nonexistent/kunder.csv"})
	require.Error(t, err)

	require.Len(t, summary.Stages, 1)
	assert.Equal(t, StageFailed, summary.Stages[0].Status)
	assert.NotEmpty(t, summary.Stages[0].Error)
	assert.Empty(t, client.commits, "nothing may be written when the source is unavailable")
}

func TestRunRecordsHistory(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))

	client := &fakeClient{}
	summary, err := newPipeline(client, WithLedger(l)).
		Run(context.Background(), fetcher.Source{URL: writeSourceCSV(t)})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)

	run, err := l.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusComplete, run.Status)
	assert.Contains(t, string(run.Summary), `"rowsFetched":1`)
}

func TestRunRecordsFailure(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))

	client := &fakeClient{}
	summary, err := newPipeline(client, WithLedger(l)).
		Run(context.Background(), fetcher.Source{URL: "/nonexistent/kunder.csv"})
	require.Error(t, err)

	run, err := l.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestWriteReport(t *testing.T) {
	client := &fakeClient{}
	summary, err := newPipeline(client).Run(context.Background(), fetcher.Source{URL: writeSourceCSV(t)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, summary.WriteReport(&buf))
	assert.Contains(t, buf.String(), "rows_fetched: 1")
	assert.Contains(t, buf.String(), "name: upsert")
}
