package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/types"
)

const maxHistoryRange = 7 * 24 * time.Hour

func (s *Server) handleHistoryNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r, time.Now())
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	ns, err := s.storage.GetNotifications(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get notifications", slog.Any("error", err))
		writeJSONError(w, "failed to get notifications", http.StatusInternalServerError)
		return
	}
	if ns == nil {
		ns = []types.Notification{}
	}

	// a range that ended an hour ago will not change
	if end.Before(time.Now().Add(-time.Hour)) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=10")
	}
	writeJSON(w, ns)
}

func (s *Server) handleHistoryAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := s.storage.GetLatestAnalysisReport(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get analysis report", slog.Any("error", err))
		writeJSONError(w, "failed to get analysis report", http.StatusInternalServerError)
		return
	}
	if report == nil {
		writeJSONError(w, "no archived analysis", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, report)
}

func parseTimeRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		return now.Add(-24 * time.Hour), now, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxHistoryRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", maxHistoryRange)
	}

	return start, end, nil
}
