package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

// recentSnapshotLimit is how many raw snapshots the device detail carries.
const recentSnapshotLimit = 10

type deviceDetailResponse struct {
	Device          model.DeviceRecord         `json:"device"`
	Partitions      []model.PartitionSnapshot  `json:"partitions"`
	RecentSnapshots []model.PartitionSnapshot  `json:"recent_snapshots"`
	Temperatures    []model.TemperatureReading `json:"temperatures"`
	Period          string                     `json:"period"`
	History         []model.TemperatureReading `json:"history"`
	ReadingCounts   map[string]int             `json:"reading_counts"`
	Live            *model.DeviceStatus        `json:"live,omitempty"`
}

// @Summary Device detail
// @Description Latest partition states, recent raw snapshots, latest reading per sensor and temperature history for one device
// @Produce json
// @Param id path int true "Device ID"
// @Param period query string false "History window (1h, 24h, 1w, 1m, 1y, 2y, all)" default(1h)
// @Success 200 {object} deviceDetailResponse
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/devices/{id} [get]
func (s *Server) handleDeviceDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = store.DefaultPeriod
	}
	now := s.now()
	since, err := store.PeriodStart(period, now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_period", err.Error())
		return
	}

	ctx := r.Context()
	dev, err := s.store.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "device not found")
			return
		}
		s.internalError(w, r, "loading device", err)
		return
	}

	resp := deviceDetailResponse{Device: *dev, Period: period}
	if resp.Partitions, err = s.store.LatestPartitions(ctx, id); err != nil {
		s.internalError(w, r, "loading partitions", err)
		return
	}
	if resp.RecentSnapshots, err = s.store.RecentSnapshots(ctx, id, recentSnapshotLimit); err != nil {
		s.internalError(w, r, "loading snapshots", err)
		return
	}
	if resp.Temperatures, err = s.store.LatestReadings(ctx, id); err != nil {
		s.internalError(w, r, "loading readings", err)
		return
	}
	if resp.History, err = s.store.TemperatureHistory(ctx, id, since); err != nil {
		s.internalError(w, r, "loading temperature history", err)
		return
	}
	if resp.ReadingCounts, err = s.store.ReadingCounts(ctx, id, now); err != nil {
		s.internalError(w, r, "counting readings", err)
		return
	}
	for i := range resp.Partitions {
		resp.Partitions[i].RawData = nil
	}
	resp.Partitions = nonNil(resp.Partitions)
	resp.RecentSnapshots = nonNil(resp.RecentSnapshots)
	resp.Temperatures = nonNil(resp.Temperatures)
	resp.History = nonNil(resp.History)

	if entry, ok := s.cache.Device(id); ok {
		resp.Live = &entry.Status
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
}

type controlRequest struct {
	Action        string `json:"action" validate:"required,oneof=arm disarm"`
	PartitionID   *int   `json:"partitionId" validate:"omitempty,min=0"`
	PartitionName string `json:"partitionName" validate:"max=100"`
}

type controlResponse struct {
	Success      bool                `json:"success"`
	Action       string              `json:"action"`
	Status       *model.DeviceStatus `json:"status,omitempty"`
	RefreshError string              `json:"refresh_error,omitempty"`
}

// @Summary Arm or disarm a partition
// @Description Sends the control request to ELDES Cloud, then refetches and records the device status. The partition is resolved by name, then id, then the single-partition default.
// @Accept json
// @Produce json
// @Param id path int true "Device ID"
// @Param body body controlRequest true "Control request"
// @Success 200 {object} controlResponse
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 429 {object} errorResponse
// @Failure 502 {object} errorResponse
// @Router /api/devices/{id}/control [post]
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req controlRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := s.syncer.Control(r.Context(), id, eldes.Action(req.Action), req.PartitionID, req.PartitionName)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	slog.Info("partition control accepted", "device_id", id, "action", req.Action)
	writeJSON(w, r, http.StatusOK, controlResponse{
		Success:      true,
		Action:       req.Action,
		Status:       res.Status,
		RefreshError: res.RefreshError,
	})
}
