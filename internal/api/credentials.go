package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

type createCredentialRequest struct {
	Login        string `json:"login" validate:"required,email,max=254"`
	Secret       string `json:"secret" validate:"required,max=256"`
	Label        string `json:"label" validate:"max=100"`
	HostDeviceID string `json:"host_device_id" validate:"omitempty,max=64"`
}

type createCredentialResponse struct {
	ID           int64  `json:"id"`
	HostDeviceID string `json:"host_device_id"`
}

// @Summary List credentials
// @Description Stored ELDES Cloud accounts. Secrets are never returned.
// @Produce json
// @Success 200 {array} model.Credential
// @Router /api/credentials [get]
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.ListCredentials(r.Context())
	if err != nil {
		slog.Error("listing credentials", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	if creds == nil {
		creds = []model.Credential{}
	}
	writeJSON(w, r, http.StatusOK, creds)
}

// @Summary Create credential
// @Description Stores an ELDES Cloud account; the secret is encrypted before insert
// @Accept json
// @Produce json
// @Param body body createCredentialRequest true "Account"
// @Success 201 {object} createCredentialResponse
// @Failure 400 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /api/credentials [post]
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	switch _, err := s.store.FindCredentialByLogin(r.Context(), req.Login); {
	case err == nil:
		writeError(w, r, http.StatusConflict, "duplicate_login", "a credential for this login already exists")
		return
	case !errors.Is(err, store.ErrNotFound):
		slog.Error("looking up credential", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	sealed, err := s.secrets.Encrypt(req.Secret)
	if err != nil {
		slog.Error("encrypting credential secret", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	hostID := req.HostDeviceID
	if hostID == "" {
		hostID = eldes.HostDeviceID(req.Login)
	}

	id, err := s.store.CreateCredential(r.Context(), model.Credential{
		Login:           req.Login,
		SecretEncrypted: sealed,
		Label:           req.Label,
		HostDeviceID:    hostID,
	})
	if err != nil {
		slog.Error("creating credential", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	slog.Info("credential created", "credential_id", id)
	writeJSON(w, r, http.StatusCreated, createCredentialResponse{ID: id, HostDeviceID: hostID})
}

// @Summary Delete credential
// @Description Deletes the account with its devices and history
// @Param id path int true "Credential ID"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /api/credentials/{id} [delete]
func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCredential(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		slog.Error("deleting credential", "credential_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	s.cache.RemoveCredential(id)
	slog.Info("credential deleted", "credential_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type deviceSummary struct {
	model.DeviceRecord
	Partitions   []model.PartitionSnapshot  `json:"partitions"`
	Temperatures []model.TemperatureReading `json:"temperatures"`
	Temperature  *float64                   `json:"temperature"`
}

type credentialDevicesResponse struct {
	CredentialID int64           `json:"credential_id"`
	Devices      []deviceSummary `json:"devices"`
	Stale        bool            `json:"stale"`
	Pass         *model.SyncPass `json:"pass,omitempty"`
}

// @Summary Devices of a credential
// @Description Last known state of every device. With refresh=true a sync pass runs first; when it is rate limited or fails the stored rows are served with stale=true.
// @Produce json
// @Param id path int true "Credential ID"
// @Param refresh query bool false "Run a sync pass first"
// @Success 200 {object} credentialDevicesResponse
// @Failure 401 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/credentials/{id}/devices [get]
func (s *Server) handleCredentialDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetCredential(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		slog.Error("loading credential", "credential_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	resp := credentialDevicesResponse{CredentialID: id, Devices: []deviceSummary{}}
	if r.URL.Query().Get("refresh") == "true" {
		pass := s.syncer.SyncCredential(ctx, id)
		if pass.Outcome == model.OutcomeAuthFailed {
			writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "ELDES Cloud rejected the stored credentials")
			return
		}
		resp.Pass = &pass
		resp.Stale = pass.Outcome == model.OutcomeRateLimited || pass.Outcome == model.OutcomeFailed
	}

	devices, err := s.store.ListDevices(ctx, id)
	if err != nil {
		slog.Error("listing devices", "credential_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	for _, d := range devices {
		sum, err := s.deviceSummary(r, d)
		if err != nil {
			slog.Error("loading device state", "device_id", d.ID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
			return
		}
		resp.Devices = append(resp.Devices, sum)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) deviceSummary(r *http.Request, d model.DeviceRecord) (deviceSummary, error) {
	parts, err := s.store.LatestPartitions(r.Context(), d.ID)
	if err != nil {
		return deviceSummary{}, err
	}
	temps, err := s.store.LatestReadings(r.Context(), d.ID)
	if err != nil {
		return deviceSummary{}, err
	}
	for i := range parts {
		parts[i].RawData = nil
	}
	sum := deviceSummary{
		DeviceRecord: d,
		Partitions:   nonNil(parts),
		Temperatures: nonNil(temps),
	}
	if len(parts) > 0 {
		sum.Temperature = parts[0].Temperature
	}
	return sum, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
