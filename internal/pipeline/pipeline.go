// Package pipeline orchestrates a full vendor sync: fetch, transform,
// upsert, location reconciliation, referential repair, and aggregate
// recomputation.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nordkart/vendorsync/internal/aggregate"
	"github.com/nordkart/vendorsync/internal/fetcher"
	"github.com/nordkart/vendorsync/internal/ledger"
	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/internal/reconcile"
	"github.com/nordkart/vendorsync/internal/transform"
	"github.com/nordkart/vendorsync/internal/upsert"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// Stage statuses.
const (
	StageComplete = "complete"
	StageFailed   = "failed"
)

// Stage records one pipeline step's outcome.
type Stage struct {
	Name       string `yaml:"name" json:"name"`
	Status     string `yaml:"status" json:"status"`
	DurationMS int64  `yaml:"duration_ms" json:"durationMs"`
	Error      string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Summary is the full outcome of one sync run.
type Summary struct {
	RunID            string                  `yaml:"run_id,omitempty" json:"runId,omitempty"`
	Source           string                  `yaml:"source" json:"source"`
	RowsFetched      int                     `yaml:"rows_fetched" json:"rowsFetched"`
	VendorsResolved  int                     `yaml:"vendors_resolved" json:"vendorsResolved"`
	Upsert           *upsert.Result          `yaml:"upsert,omitempty" json:"upsert,omitempty"`
	Reconcile        *reconcile.Result       `yaml:"reconcile,omitempty" json:"reconcile,omitempty"`
	CountiesRepaired int                     `yaml:"counties_repaired" json:"countiesRepaired"`
	Counts           *aggregate.CountResult  `yaml:"counts,omitempty" json:"counts,omitempty"`
	Bounds           *aggregate.BoundsResult `yaml:"bounds,omitempty" json:"bounds,omitempty"`
	Stages           []Stage                 `yaml:"stages" json:"stages"`
	StartedAt        time.Time               `yaml:"started_at" json:"startedAt"`
	DurationMS       int64                   `yaml:"duration_ms" json:"durationMs"`
}

// Pipeline wires the sync stages together.
type Pipeline struct {
	reader      *fetcher.Reader
	transformer *transform.Transformer
	engine      *upsert.Engine
	reconciler  *reconcile.Reconciler
	client      sanity.Client
	ledger      *ledger.Ledger
	onlyMissing bool
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithLedger enables run history persistence.
func WithLedger(l *ledger.Ledger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithOnlyMissingLocations restricts reconciliation to vendors without
// a linked location.
func WithOnlyMissingLocations() Option {
	return func(p *Pipeline) {
		p.onlyMissing = true
	}
}

// New creates a Pipeline with all stage dependencies.
func New(
	reader *fetcher.Reader,
	transformer *transform.Transformer,
	engine *upsert.Engine,
	reconciler *reconcile.Reconciler,
	client sanity.Client,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		reader:      reader,
		transformer: transformer,
		engine:      engine,
		reconciler:  reconciler,
		client:      client,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the full sync for one source. The first failing stage
// aborts the run; the summary still reports every stage attempted.
func (p *Pipeline) Run(ctx context.Context, src fetcher.Source) (*Summary, error) {
	sourceName := src.URL
	if src.SpreadsheetID != "" {
		sourceName = "sheet:" + src.SpreadsheetID
	}
	log := zap.L().With(zap.String("source", sourceName))
	log.Info("pipeline: starting sync")

	summary := &Summary{Source: sourceName, StartedAt: time.Now().UTC()}

	var run *ledger.Run
	if p.ledger != nil {
		var err error
		run, err = p.ledger.StartRun(ctx, sourceName)
		if err != nil {
			log.Warn("pipeline: run history unavailable", zap.Error(err))
		} else {
			summary.RunID = run.ID
		}
	}

	err := p.runStages(ctx, src, summary, log)
	summary.DurationMS = time.Since(summary.StartedAt).Milliseconds()

	if run != nil {
		if err != nil {
			if ledgerErr := p.ledger.FailRun(ctx, run.ID, err); ledgerErr != nil {
				log.Warn("pipeline: record run failure", zap.Error(ledgerErr))
			}
		} else if ledgerErr := p.ledger.CompleteRun(ctx, run.ID, summary); ledgerErr != nil {
			log.Warn("pipeline: record run completion", zap.Error(ledgerErr))
		}
	}

	if err != nil {
		return summary, err
	}
	log.Info("pipeline: sync complete", zap.Int64("duration_ms", summary.DurationMS))
	return summary, nil
}

func (p *Pipeline) runStages(ctx context.Context, src fetcher.Source, summary *Summary, log *zap.Logger) error {
	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		s := Stage{Name: name, Status: StageComplete, DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			s.Status = StageFailed
			s.Error = err.Error()
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Error(err))
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name), zap.Int64("duration_ms", s.DurationMS))
		}
		summary.Stages = append(summary.Stages, s)
		return err
	}

	var rows []model.SourceRow
	if err := stage("fetch", func() error {
		var err error
		rows, err = p.reader.Rows(ctx, src)
		summary.RowsFetched = len(rows)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: fetch")
	}

	var vendors []model.Vendor
	if err := stage("transform", func() error {
		var err error
		vendors, err = p.transformer.Transform(ctx, rows)
		summary.VendorsResolved = len(vendors)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: transform")
	}

	if err := stage("upsert", func() error {
		var err error
		summary.Upsert, err = p.engine.Upsert(ctx, vendors)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: upsert")
	}

	if err := stage("reconcile", func() error {
		var err error
		summary.Reconcile, err = p.reconciler.Reconcile(ctx, p.onlyMissing)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: reconcile")
	}

	if err := stage("repair", func() error {
		var err error
		summary.CountiesRepaired, err = reconcile.RepairCountyRefs(ctx, p.client)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: repair")
	}

	if err := stage("counts", func() error {
		var err error
		summary.Counts, err = aggregate.RecomputeCounts(ctx, p.client)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: counts")
	}

	if err := stage("bounds", func() error {
		var err error
		summary.Bounds, err = aggregate.RecomputeBounds(ctx, p.client)
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: bounds")
	}

	return nil
}

// WriteReport renders the summary as YAML.
func (s *Summary) WriteReport(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return eris.Wrap(err, "pipeline: encode report")
	}
	return eris.Wrap(enc.Close(), "pipeline: close report encoder")
}
