// Package scheduler drives the acquisition and validation sweeps: import
// candidates from every configured source, validate whatever is due, and
// keep the index consistent with the outcomes. Unattended sweeps run on a
// cron ticker; manual sweeps run the same loop synchronously with
// cooperative cancellation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robfig/cron/v3"

	"kptv-search/work/config"
	"kptv-search/work/database"
	"kptv-search/work/importer"
	"kptv-search/work/indexer"
	"kptv-search/work/logger"
	"kptv-search/work/metrics"
	"kptv-search/work/search"
	"kptv-search/work/types"
	"kptv-search/work/validator"
)

// IsSweepDue decides whether an unattended sweep should start. Disabled
// scheduling or a non-positive interval always answers no; otherwise a
// sweep is due once a full interval has elapsed since the last one.
func IsSweepDue(now, lastSweep int64, intervalHours int, enabled bool) bool {
	if !enabled || intervalHours <= 0 {
		return false
	}
	return now-lastSweep >= int64(intervalHours)*3600
}

// Runner owns the sweep machinery. One Runner exists per process; the
// in-flight map guarantees a server identity is never validated by two
// overlapping sweeps, which the registry's atomicity contract depends on.
type Runner struct {
	config    *config.Config
	db        *database.DB
	log       *logger.Logger
	validator *validator.Validator
	indexer   *indexer.Indexer
	sources   []importer.CredentialSource
	playlists *importer.PlaylistSource
	engine    *search.Engine

	cron     *cron.Cron
	inflight *xsync.MapOf[string, struct{}]

	mu        sync.Mutex
	sweeping  bool
	cancelBg  context.CancelFunc
	bgCtx     context.Context
	wg        sync.WaitGroup
}

// New wires a Runner from the already-constructed components.
func New(
	cfg *config.Config,
	db *database.DB,
	log *logger.Logger,
	val *validator.Validator,
	ix *indexer.Indexer,
	sources []importer.CredentialSource,
	playlists *importer.PlaylistSource,
	engine *search.Engine,
) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		config:    cfg,
		db:        db,
		log:       log,
		validator: val,
		indexer:   ix,
		sources:   sources,
		playlists: playlists,
		engine:    engine,
		cron:      cron.New(),
		inflight:  xsync.NewMapOf[string, struct{}](),
		bgCtx:     ctx,
		cancelBg:  cancel,
	}
}

// Start arms the unattended schedule. The tick is deliberately much finer
// than the sweep interval; each tick just asks IsSweepDue, so a restart
// never loses its place in the schedule.
func (r *Runner) Start() error {
	_, err := r.cron.AddFunc("@every 15m", func() {
		now := time.Now().Unix()
		if !IsSweepDue(now, r.config.GetLastSweep(), r.config.RecheckHours, r.config.AutoSweepEnabled) {
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			summary, err := r.RunSweep(r.bgCtx, "scheduled")
			if err != nil {
				r.log.Error("Scheduled sweep failed: %v", err)
				return
			}
			r.log.Info("Scheduled sweep complete: checked=%d validated=%d invalidated=%d",
				summary.Checked, summary.Validated, summary.Invalidated)
		}()
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Kickoff starts one sweep in the background under the runner's lifecycle.
// Used at startup when the registry is empty; Stop cancels and joins it
// like any scheduled sweep.
func (r *Runner) Kickoff() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		summary, err := r.RunSweep(r.bgCtx, "bootstrap")
		if err != nil {
			r.log.Error("Initial sweep failed: %v", err)
			return
		}
		r.log.Info("Initial sweep complete: checked=%d validated=%d invalidated=%d",
			summary.Checked, summary.Validated, summary.Invalidated)
	}()
}

// Stop halts the schedule, cancels any background sweep, and waits for it
// to wind down. Partial sweep results stay persisted.
func (r *Runner) Stop() {
	r.cron.Stop()
	r.cancelBg()
	r.wg.Wait()
}

// RunSweep executes one full sweep: acquire candidates, refresh playlists,
// then validate the due servers sequentially. Cancellation is checked once
// per server; everything persisted before the cancel point is kept and the
// remaining candidates are simply left for the next sweep.
//
// Only one sweep runs at a time; a second call while one is active returns
// ErrSweepRunning immediately.
func (r *Runner) RunSweep(ctx context.Context, trigger string) (types.SweepSummary, error) {
	r.mu.Lock()
	if r.sweeping {
		r.mu.Unlock()
		return types.SweepSummary{}, ErrSweepRunning
	}
	r.sweeping = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.sweeping = false
		r.mu.Unlock()
	}()

	start := time.Now()
	var summary types.SweepSummary

	r.importCandidates(ctx)
	r.refreshPlaylists(ctx)

	due, err := r.db.ListDue(r.threshold(start.Unix()), types.SentinelUsername, r.config.MaxServersPerSweep)
	if err != nil {
		return summary, err
	}
	r.log.Info("Sweep starting: %d servers due", len(due))

	for _, cred := range due {
		if ctx.Err() != nil {
			r.log.Info("Sweep cancelled after %d servers", summary.Checked)
			break
		}
		if _, loaded := r.inflight.LoadOrStore(cred.Key(), struct{}{}); loaded {
			continue
		}
		res := r.validateOne(ctx, cred)
		r.inflight.Delete(cred.Key())

		summary.Checked++
		switch res.Outcome {
		case types.OutcomeValid:
			summary.Validated++
		case types.OutcomeInvalid:
			summary.Invalidated++
		}
	}

	r.finishSweep(start, trigger)
	return summary, nil
}

// RunImport runs only the acquisition half of a sweep: credentials from
// the configured sources plus a playlist refresh, no validation.
func (r *Runner) RunImport(ctx context.Context) (importer.ImportSummary, error) {
	summary := r.importCandidates(ctx)
	summary.Playlists = r.refreshPlaylists(ctx)
	r.engine.InvalidateCache()
	return summary, nil
}

// threshold converts the recheck interval into the ListDue cutoff. A
// non-positive interval means age does not matter: every valid server is
// revalidated, which is the manual-sweep behavior recheckHours=0 selects.
func (r *Runner) threshold(now int64) int64 {
	hours := r.config.RecheckHours
	if hours <= 0 {
		return -1
	}
	return now - int64(hours)*3600
}

// Revalidate runs one immediate validation attempt against a single server,
// outside the sweep schedule, and applies the outcome unless dryRun is set.
// The in-flight guard arbitrates against a sweep working the same identity:
// whoever stored the key first wins and the loser backs off.
func (r *Runner) Revalidate(ctx context.Context, cred types.Credential, dryRun bool) (validator.Result, error) {
	if _, loaded := r.inflight.LoadOrStore(cred.Key(), struct{}{}); loaded {
		return validator.Result{}, ErrServerBusy
	}
	defer r.inflight.Delete(cred.Key())

	if dryRun {
		return r.validator.Validate(ctx, cred), nil
	}

	res := r.validateOne(ctx, cred)
	r.engine.InvalidateCache()
	return res, nil
}

// validateOne runs one validation attempt and applies its outcome to the
// registry. Transient outcomes change nothing. The caller holds the
// identity's in-flight slot.
func (r *Runner) validateOne(ctx context.Context, cred types.Credential) validator.Result {
	res := r.validator.Validate(ctx, cred)
	metrics.ValidationOutcomes.WithLabelValues(res.Outcome.String()).Inc()

	now := time.Now().Unix()
	switch res.Outcome {
	case types.OutcomeValid:
		records := r.indexer.BuildRecords(res.Catalog)
		if err := r.db.MarkValid(cred, now, res.MaxConnections, records); err != nil {
			r.log.Error("Failed to store %s: %v", cred.Redacted(), err)
		}
	case types.OutcomeInvalid:
		r.log.Info("Server invalid (%s): %s", res.Reason, cred.Redacted())
		if err := r.db.MarkInvalid(cred, now); err != nil {
			r.log.Error("Failed to invalidate %s: %v", cred.Redacted(), err)
		}
	case types.OutcomeTransient:
		r.log.Debug("Server transient failure (%s): %s", res.Reason, cred.Redacted())
	}
	return res
}

// importCandidates pulls credentials from every configured source and
// upserts the unknown ones. Source failures are logged and skipped so one
// dead source never blocks the rest.
func (r *Runner) importCandidates(ctx context.Context) importer.ImportSummary {
	var summary importer.ImportSummary
	for _, src := range r.sources {
		creds, err := src.Fetch(ctx)
		if err != nil {
			r.log.Error("Import source %s failed: %v", src.Name(), err)
			continue
		}
		metrics.ImportedCandidates.WithLabelValues(src.Name()).Add(float64(len(creds)))
		inserted, err := r.db.UpsertUnknown(creds)
		if err != nil {
			r.log.Error("Failed to upsert candidates from %s: %v", src.Name(), err)
			continue
		}
		summary.Candidates += len(creds)
		summary.Inserted += inserted
		r.log.Info("Import source %s: %d candidates, %d new", src.Name(), len(creds), inserted)
	}
	return summary
}

// refreshPlaylists re-indexes every configured playlist as its synthetic
// server and reports how many succeeded.
func (r *Runner) refreshPlaylists(ctx context.Context) int {
	now := time.Now().Unix()
	stored := 0
	for _, pl := range r.playlists.FetchAll(ctx) {
		records := r.indexer.BuildPlaylistRecords(pl.Channels)
		if err := r.db.UpsertPlaylistServer(pl.Server, now, records); err != nil {
			r.log.Error("Failed to store playlist %s: %v", pl.Server.Redacted(), err)
			continue
		}
		stored++
	}
	return stored
}

// finishSweep records bookkeeping common to every sweep end: timestamp,
// metrics, gauges, and the search cache (whose entries may now be stale).
func (r *Runner) finishSweep(start time.Time, trigger string) {
	r.config.SetLastSweep(time.Now().Unix())
	if err := r.config.Save(); err != nil {
		r.log.Warn("Failed to persist sweep timestamp: %v", err)
	}

	if stats, err := r.db.GetStats(); err == nil {
		metrics.ValidServers.Set(float64(stats["valid_servers"]))
		metrics.IndexedChannels.Set(float64(stats["channels"]))
	}
	metrics.SweepsTotal.WithLabelValues(trigger).Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	r.engine.InvalidateCache()
}
