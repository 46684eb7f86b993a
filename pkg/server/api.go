package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tnbcalc/tnbcalc/pkg/billing"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

type updateRequest struct {
	SiteID    string               `json:"siteID"`
	Readings  []types.MeterReading `json:"readings"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
}

// handleUpdate runs one poll cycle: meter deltas, bucket accumulation,
// costing, prediction, recommendation. Returns the resulting snapshot.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Readings) == 0 {
		writeJSONError(w, "no readings supplied", http.StatusBadRequest)
		return
	}
	now := time.Now()
	if req.Timestamp != nil {
		now = *req.Timestamp
	}

	snap, err := s.engine.Poll(ctx, siteID, req.Readings, now)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "poll failed", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "poll failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

// handleSnapshot returns the current cycle priced at this moment without
// advancing the meters.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	snap, err := s.engine.Snapshot(ctx, siteID, time.Now())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "snapshot failed", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

// handleHistory returns the stored poll snapshots between the optional
// start/end RFC3339 query parameters (default: the last 24 hours).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "invalid start time", http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "invalid end time", http.StatusBadRequest)
			return
		}
		end = t
	}

	snaps, err := s.storage.GetSnapshotHistory(ctx, siteID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get snapshot history", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Snapshots []types.BillingSnapshot `json:"snapshots"`
	}{Snapshots: snaps})
}

// handleBillingHistory returns the archived billing cycles between the
// optional start/end YYYY-MM query parameters (default: the last year).
func (s *Server) handleBillingHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	now := time.Now()
	startKey := r.URL.Query().Get("start")
	if startKey == "" {
		startKey = now.AddDate(-1, 0, 0).Format("2006-01")
	}
	endKey := r.URL.Query().Get("end")
	if endKey == "" {
		endKey = now.AddDate(0, 1, 0).Format("2006-01")
	}

	months, err := s.storage.GetBillingHistory(ctx, siteID, startKey, endKey)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get billing history", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Months map[string]types.HistoricalMonth `json:"months"`
	}{Months: months})
}

type calibrateRequest struct {
	SiteID string `json:"siteID"`
	billing.CalibrationRequest
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Calibrate(ctx, siteID, req.CalibrationRequest, time.Now())
	if err != nil {
		// Calibration rejections are caller mistakes, not server faults.
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleTariffAFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req struct {
		SiteID  string   `json:"siteID"`
		AFARate *float64 `json:"afaRate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AFARate == nil {
		writeJSONError(w, "missing afaRate", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetAFAOverride(ctx, siteID, *req.AFARate, time.Now()); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTariffReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	if err := s.engine.ResetOverrides(ctx, siteID); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to reset overrides", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to reset overrides", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTariffFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req struct {
		SiteID   string `json:"siteID"`
		Complete bool   `json:"complete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.FetchTariff(ctx, siteID, req.Complete, time.Now()); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "tariff fetch failed", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebhookTariff accepts a schedule pushed by an external rate
// publisher. The payload is validated before it reaches the override store.
func (s *Server) handleWebhookTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req struct {
		SiteID   string                `json:"siteID"`
		AFARate  *float64              `json:"afaRate,omitempty"`
		Schedule *types.TariffSchedule `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Schedule == nil {
		writeJSONError(w, "missing schedule", http.StatusBadRequest)
		return
	}

	if err := s.engine.ApplyWebhookSchedule(ctx, siteID, *req.Schedule, req.AFARate, time.Now()); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req struct {
		SiteID     string  `json:"siteID"`
		ActualBill float64 `json:"actualBill"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Compare(ctx, siteID, req.ActualBill)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	settings, err := s.engine.Settings(ctx, siteID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req struct {
		SiteID string `json:"siteID"`
		types.Settings
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.UpdateSettings(ctx, siteID, req.Settings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, req.Settings)
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sites, err := s.storage.ListSites(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list sites", slog.Any("error", err))
		writeJSONError(w, "failed to list sites", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Sites []types.Site `json:"sites"`
	}{Sites: sites})
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		SiteID string `json:"siteID"`
		types.Site
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	siteID := req.SiteID
	if siteID == "" && s.singleSite {
		siteID = defaultSiteID
	}
	if siteID == "" {
		writeJSONError(w, "missing siteID", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.ImportEntity == "" {
		writeJSONError(w, "name and importEntity are required", http.StatusBadRequest)
		return
	}
	req.Site.Created = time.Now().UTC()

	if err := s.storage.CreateSite(ctx, siteID, req.Site); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create site", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to create site", http.StatusConflict)
		return
	}
	writeJSON(w, req.Site)
}
