// Package handlers implements the public HTTP surface: search, recent
// search history, and the import/sweep triggers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kptv-search/work/config"
	"kptv-search/work/history"
	"kptv-search/work/logger"
	"kptv-search/work/metrics"
	"kptv-search/work/scheduler"
	"kptv-search/work/search"
)

// writeJSON renders a JSON response; encode failures at this point can only
// be logged since the status line is already gone.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

// writeError renders a JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleSearch serves GET /search?q=term[&country=][&limit=][&per_server=].
// Successful non-empty searches are recorded in the history store.
func HandleSearch(engine *search.Engine, hist *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("q")
		if term == "" {
			writeError(w, http.StatusBadRequest, "missing q parameter")
			return
		}
		country := r.URL.Query().Get("country")

		q := search.Query{
			Term:     term,
			Country:  country,
			Limit:    queryInt(r, "limit"),
			PerLimit: queryInt(r, "per_server"),
		}

		start := time.Now()
		results, err := engine.Search(q)
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Error("{handlers - HandleSearch} search failed: %v", err)
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}

		hist.Record(term, country)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":   len(results),
			"results": results,
		})
	}
}

// HandleRecent serves GET /recent[?limit=], newest first.
func HandleRecent(hist *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hist.Recent(queryInt(r, "limit")))
	}
}

// HandleSweep serves POST /sweep: a manual sweep run synchronously. The
// request context carries cancellation, so a client that gives up stops the
// sweep at the next server boundary and keeps what finished.
func HandleSweep(runner *scheduler.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := runner.RunSweep(r.Context(), "manual")
		if errors.Is(err, scheduler.ErrSweepRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			logger.Error("{handlers - HandleSweep} sweep failed: %v", err)
			writeError(w, http.StatusInternalServerError, "sweep failed")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// HandleImport serves POST /import: runs only the acquisition half of a
// sweep, bounded by the configured catalog timeout, so new sources show up
// without waiting on a validation pass.
func HandleImport(runner *scheduler.Runner, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 4*cfg.CatalogTimeout)
		defer cancel()

		summary, err := runner.RunImport(ctx)
		if err != nil {
			logger.Error("{handlers - HandleImport} import failed: %v", err)
			writeError(w, http.StatusInternalServerError, "import failed")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// queryInt parses an optional positive integer query parameter, returning
// zero (meaning "use the configured default") when absent or malformed.
func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
