package server

import (
	"net/http"
)

func (s *Server) handleSampleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sample.Summary())
}

func (s *Server) handleSampleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sample.Metadata())
}
