package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/gridsync/pkg/engine"
	"github.com/raterudder/gridsync/pkg/log"
)

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Analysis()
	if report == nil {
		writeJSONError(w, "no analysis has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := s.engine.Analyze(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "analysis failed", slog.Any("error", err))
		if errors.Is(err, engine.ErrAnalysisUnsuccessful) {
			writeJSONError(w, "analysis reported failure", http.StatusBadGateway)
			return
		}
		writeJSONError(w, "failed to generate analysis", http.StatusBadGateway)
		return
	}
	writeJSON(w, report)
}
