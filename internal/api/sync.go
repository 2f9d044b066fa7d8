package api

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

type syncStartResponse struct {
	Started bool `json:"started"`
	Running bool `json:"running"`
}

// @Summary Start the background sync
// @Description Starts the hourly sync schedule. Calling it again while it runs is a no-op and answers started=false.
// @Produce json
// @Success 200 {object} syncStartResponse
// @Router /api/sync/start [post]
func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, r, http.StatusServiceUnavailable, "scheduler_unavailable", "background sync is not configured")
		return
	}
	started := s.scheduler.Start()
	if started {
		slog.Info("sync schedule started via API")
	}
	writeJSON(w, r, http.StatusOK, syncStartResponse{Started: started, Running: s.scheduler.Started()})
}

type credentialSyncState struct {
	CredentialID     int64           `json:"credential_id"`
	Login            string          `json:"login,omitempty"`
	Stage            string          `json:"stage"`
	LastPass         *model.SyncPass `json:"last_pass,omitempty"`
	LastSuccessAt    int64           `json:"last_success_at,omitempty"`
	RateLimitedSince int64           `json:"rate_limited_since,omitempty"`
}

type syncStatusResponse struct {
	Running     bool                  `json:"running"`
	Credentials []credentialSyncState `json:"credentials"`
}

// @Summary Sync status
// @Description Cached outcome of the last pass per credential
// @Produce json
// @Success 200 {object} syncStatusResponse
// @Router /api/sync/status [get]
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	resp := syncStatusResponse{
		Running:     s.scheduler != nil && s.scheduler.Started(),
		Credentials: []credentialSyncState{},
	}

	ids := make(map[int64]struct{})
	for id := range snap.Passes {
		ids[id] = struct{}{}
	}
	for id := range snap.Stages {
		ids[id] = struct{}{}
	}
	for id := range ids {
		st := credentialSyncState{
			CredentialID: id,
			Login:        snap.Logins[id],
			Stage:        snap.Stages[id],
			LastPass:     snap.Passes[id],
		}
		if t, ok := snap.LastSuccess[id]; ok {
			st.LastSuccessAt = t.UnixMilli()
		}
		if t, ok := snap.RateLimitedSince[id]; ok {
			st.RateLimitedSince = t.UnixMilli()
		}
		resp.Credentials = append(resp.Credentials, st)
	}
	sort.Slice(resp.Credentials, func(i, j int) bool {
		return resp.Credentials[i].CredentialID < resp.Credentials[j].CredentialID
	})
	writeJSON(w, r, http.StatusOK, resp)
}

// @Summary Recent alerts
// @Description Newest entries of the alert log
// @Produce json
// @Param limit query int false "Max entries (1-500)" default(50)
// @Success 200 {array} store.AlertEntry
// @Router /api/alerts [get]
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	alerts, err := s.store.RecentAlerts(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "querying alerts", err)
		return
	}
	if alerts == nil {
		alerts = []store.AlertEntry{}
	}
	writeJSON(w, r, http.StatusOK, alerts)
}
