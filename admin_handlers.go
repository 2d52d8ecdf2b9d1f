package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"kptv-search/work/config"
	"kptv-search/work/database"
	"kptv-search/work/logger"
	"kptv-search/work/middleware"
	"kptv-search/work/scheduler"
	"kptv-search/work/search"
	"kptv-search/work/types"
	"kptv-search/work/utils"
)

// adminStartTime records process start for the uptime field in stats.
var adminStartTime = time.Now()

// adminDeps bundles everything the admin API operates on, so the route
// setup reads like the route table it is.
type adminDeps struct {
	config *config.Config
	db     *database.DB
	runner *scheduler.Runner
	engine *search.Engine
}

// setupAdminRoutes configures the administrative API: server inventory and
// lifecycle management plus service stats. All routes sit under /api and
// carry CORS headers so a web UI on another origin can drive them.
//
// Parameters:
//   - router: configured mux router for route registration
//   - deps: constructed service components the handlers operate on
func setupAdminRoutes(router *mux.Router, deps adminDeps) {
	router.HandleFunc("/api/servers", corsMiddleware(middleware.GzipMiddleware(handleListServers(deps)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/servers", corsMiddleware(handleDeleteServer(deps))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/servers/search-enabled", corsMiddleware(handleSetSearchEnabled(deps))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/servers/revalidate", corsMiddleware(handleRevalidateServer(deps))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(deps)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/config", corsMiddleware(middleware.GzipMiddleware(handleGetConfig(deps)))).Methods("GET", "OPTIONS")
}

// corsMiddleware provides Cross-Origin Resource Sharing support for admin
// API endpoints, including preflight OPTIONS handling.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// serverRef is the JSON body identifying one server for the mutation
// endpoints.
type serverRef struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	Enabled  *bool  `json:"enabled,omitempty"`
	DryRun   bool   `json:"dryRun,omitempty"`
}

// decodeServerRef parses and checks a server identity from a request body.
func decodeServerRef(r *http.Request) (serverRef, error) {
	var ref serverRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		return ref, fmt.Errorf("invalid JSON body: %w", err)
	}
	if ref.Address == "" || ref.Username == "" {
		return ref, fmt.Errorf("address and username are required")
	}
	return ref, nil
}

// serverView is the admin listing shape. The password is never included;
// operators identify servers by address and username.
type serverView struct {
	Address        string `json:"address"`
	Username       string `json:"username"`
	LastChecked    int64  `json:"lastChecked"`
	IsValid        bool   `json:"isValid"`
	MaxConnections int    `json:"maxConnections"`
	SearchEnabled  bool   `json:"searchEnabled"`
	ChannelCount   int    `json:"channelCount"`
}

// handleListServers returns the server inventory with channel counts,
// most recently checked first.
func handleListServers(deps adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := deps.db.ListServers(1000)
		if err != nil {
			logger.Error("{admin - handleListServers} failed to list servers: %v", err)
			http.Error(w, "failed to list servers", http.StatusInternalServerError)
			return
		}

		views := make([]serverView, 0, len(servers))
		for _, s := range servers {
			views = append(views, serverView{
				Address:        s.Address,
				Username:       s.Username,
				LastChecked:    s.LastChecked,
				IsValid:        s.IsValid,
				MaxConnections: s.MaxConnections,
				SearchEnabled:  s.SearchEnabled,
				ChannelCount:   s.ChannelCount,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

// handleDeleteServer removes a server and its channels from the registry.
func handleDeleteServer(deps adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := decodeServerRef(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cred := types.Credential{Address: ref.Address, Username: ref.Username, Password: ref.Password}
		if err := deps.db.Delete(cred); err != nil {
			logger.Error("{admin - handleDeleteServer} failed to delete %s: %v", cred.Redacted(), err)
			http.Error(w, "failed to delete server", http.StatusInternalServerError)
			return
		}

		deps.engine.InvalidateCache()
		logger.Info("Admin deleted server %s", cred.Redacted())
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSetSearchEnabled toggles a server's visibility in search results
// without touching its validation state.
func handleSetSearchEnabled(deps adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := decodeServerRef(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ref.Enabled == nil {
			http.Error(w, "enabled is required", http.StatusBadRequest)
			return
		}

		cred := types.Credential{Address: ref.Address, Username: ref.Username, Password: ref.Password}
		if err := deps.db.SetSearchEnabled(cred, *ref.Enabled); err != nil {
			logger.Error("{admin - handleSetSearchEnabled} failed for %s: %v", cred.Redacted(), err)
			http.Error(w, "failed to update server", http.StatusInternalServerError)
			return
		}

		deps.engine.InvalidateCache()
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleRevalidateServer runs one immediate validation attempt against a
// single server through the runner, so a sweep and an on-demand check can
// never work the same identity at once. With dryRun set the outcome is
// reported but nothing is stored, which is how an operator tests a server
// without touching its registry state.
func handleRevalidateServer(deps adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := decodeServerRef(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cred := types.Credential{Address: ref.Address, Username: ref.Username, Password: ref.Password}
		res, err := deps.runner.Revalidate(r.Context(), cred, ref.DryRun)
		if errors.Is(err, scheduler.ErrServerBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			logger.Error("{admin - handleRevalidateServer} failed for %s: %v", cred.Redacted(), err)
			http.Error(w, "revalidation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"outcome":        res.Outcome.String(),
			"reason":         res.Reason,
			"maxConnections": res.MaxConnections,
			"channels":       len(res.Catalog),
		})
	}
}

// handleGetStats reports registry counts and process uptime.
func handleGetStats(deps adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.db.GetStats()
		if err != nil {
			logger.Error("{admin - handleGetStats} failed to get stats: %v", err)
			http.Error(w, "failed to get stats", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"servers":       stats["servers"],
			"validServers":  stats["valid_servers"],
			"channels":      stats["channels"],
			"lastSweep":     deps.config.GetLastSweep(),
			"uptimeSeconds": int64(time.Since(adminStartTime).Seconds()),
		})
	}
}

// handleGetConfig returns the active configuration. Server credentials live
// in the registry rather than the config file, but the credential-list
// locator is still masked since such URLs often embed access tokens.
func handleGetConfig(deps adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(deps.config)
		if err != nil {
			logger.Error("{admin - handleGetConfig} failed to marshal config: %v", err)
			http.Error(w, "failed to encode config", http.StatusInternalServerError)
			return
		}
		var view map[string]interface{}
		if err := json.Unmarshal(data, &view); err != nil {
			http.Error(w, "failed to encode config", http.StatusInternalServerError)
			return
		}
		view["serversFile"] = utils.MaskSecret(deps.config.ServersFile)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	}
}
