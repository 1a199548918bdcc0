package server

import (
	"net/http"

	"github.com/raterudder/gridsync/pkg/types"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Snapshot())
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	samples := s.engine.Samples()
	if samples == nil {
		samples = []types.EnergySample{}
	}
	writeJSON(w, samples)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns := s.engine.Notifications()
	if ns == nil {
		ns = []types.Notification{}
	}
	writeJSON(w, ns)
}
