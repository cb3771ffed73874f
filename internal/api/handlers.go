package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

var csvHeader = []string{
	"timestamp", "battery_voltage", "load_voltage", "current", "power",
	"temperature", "humidity", "status",
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// handleBatteryData returns the most recent samples, newest first.
func (s *Server) handleBatteryData(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, s.cfg.RecentLimit)
	if !ok {
		return
	}

	samples, err := s.store.Query(r.Context(), limit, true)
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if samples == nil {
		samples = []telemetry.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	samples, err := s.store.Query(r.Context(), 1, true)
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "no samples recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, samples[0])
}

// handleBatteryDataCSV exports samples oldest first. Without a limit the
// whole history is exported.
func (s *Server) handleBatteryDataCSV(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 0)
	if !ok {
		return
	}

	samples, err := s.store.Query(r.Context(), limit, false)
	if err != nil {
		s.queryFailed(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="battery_data.csv"`)

	cw := csv.NewWriter(w)
	cw.Write(csvHeader) //nolint:errcheck // checked through cw.Error
	for _, sm := range samples {
		cw.Write(csvRecord(sm)) //nolint:errcheck // checked through cw.Error
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.log.Debug().Err(err).Msg("CSV export interrupted")
	}
}

func (s *Server) queryFailed(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Str("error_code", string(errors.CodeOf(err))).Msg("History query failed")
	writeError(w, http.StatusServiceUnavailable, string(errors.CodeOf(err)), "history unavailable")
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxQueryLimit {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be an integer between 1 and "+strconv.Itoa(maxQueryLimit))
		return 0, false
	}
	return n, true
}

func csvRecord(s telemetry.Sample) []string {
	return []string{
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		formatFloat(s.BatteryVoltage),
		formatFloat(s.LoadVoltage),
		formatFloat(s.Current),
		formatFloat(s.Power),
		formatOptional(s.Temperature),
		formatOptional(s.Humidity),
		s.Status.String(),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
