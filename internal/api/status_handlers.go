package api

import "net/http"

type serviceStatusResponse struct {
	ActiveSessions int            `json:"active_sessions"`
	MaxSessions    int            `json:"max_sessions"`
	Owners         int            `json:"owners"`
	PerOwner       map[string]int `json:"per_owner,omitempty"`
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	active, maxSessions, perOwner := s.quota.Usage()
	writeJSON(w, http.StatusOK, serviceStatusResponse{
		ActiveSessions: active,
		MaxSessions:    maxSessions,
		Owners:         len(perOwner),
		PerOwner:       perOwner,
	})
}
