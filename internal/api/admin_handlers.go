package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

// ParseAuditFilter reads an audit filter from query parameters.
func ParseAuditFilter(r *http.Request) (core.AuditFilter, error) {
	q := r.URL.Query()
	f := core.AuditFilter{
		CorrelationID: q.Get("correlation_id"),
		Provider:      q.Get("provider"),
		Kind:          core.DecisionKind(q.Get("kind")),
		Reason:        core.Reason(q.Get("reason")),
		Subject:       q.Get("subject"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, errInvalidParam("limit", v)
		}
		f.Limit = limit
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errInvalidParam(name, v)
			}
			*dst = t
		}
	}
	return f, nil
}

func errInvalidParam(name, value string) error {
	return &service.HTTPError{
		StatusCode: http.StatusBadRequest,
		Wrapped:    fmt.Errorf("invalid %s parameter '%s'", name, value),
	}
}

// handleListDecisions returns recorded decisions matching the query filter.
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseAuditFilter(r)
	if err != nil {
		presenter.Err(w, r, err, "invalid filter")
		return
	}
	decisions, err := s.service.QueryDecisions(r.Context(), filter)
	if err != nil {
		presenter.Err(w, r, err, "failed to query decisions")
		return
	}
	if decisions == nil {
		decisions = []core.FederationDecision{}
	}
	presenter.JSON(w, r, decisions, http.StatusOK)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.GetDecision(r.Context(), r.PathValue("id"))
	if err != nil {
		presenter.Err(w, r, err, "failed to get decision")
		return
	}
	presenter.JSON(w, r, d, http.StatusOK)
}

// handleGetPolicies lists the policies (of a provider), or returns a single
// policy when both provider and role are given.
func (s *Server) handleGetPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider, role := q.Get("provider"), q.Get("role")

	if role != "" {
		if provider == "" {
			presenter.Error(w, r, "role requires provider", http.StatusBadRequest)
			return
		}
		p, err := s.service.GetPolicy(r.Context(), provider, role)
		if err != nil {
			presenter.Err(w, r, err, "failed to get policy")
			return
		}
		presenter.JSON(w, r, p, http.StatusOK)
		return
	}

	policies, err := s.service.ListPolicies(r.Context(), provider)
	if err != nil {
		presenter.Err(w, r, err, "failed to list policies")
		return
	}
	if policies == nil {
		policies = []core.TrustPolicy{}
	}
	presenter.JSON(w, r, policies, http.StatusOK)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var p core.TrustPolicy
	if err := DecodePayload(r, &p, false); err != nil {
		presenter.Error(w, r, "invalid policy payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.service.PutPolicy(r.Context(), p)
	if err != nil {
		presenter.Err(w, r, err, "failed to store policy")
		return
	}
	presenter.JSON(w, r, resp, http.StatusOK)
}

// handleExplain returns the matcher trace for a token or a recorded decision.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req service.ExplainRequest
	if err := DecodePayload(r, &req, false); err != nil {
		presenter.Error(w, r, "invalid explain payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	trace, err := s.service.ExplainTrace(r.Context(), req)
	if err != nil {
		presenter.Err(w, r, err, "explain failed")
		return
	}
	presenter.JSON(w, r, trace, http.StatusOK)
}

type KeySetInfo struct {
	Issuer       string    `json:"issuer"`
	KeyIDs       []string  `json:"key_ids"`
	FetchedAt    time.Time `json:"fetched_at"`
	RefreshAfter time.Time `json:"refresh_after"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// handleKeySets lists the cached signing key sets per issuer name.
// Issuers whose keys were never fetched are reported as null.
func (s *Server) handleKeySets(w http.ResponseWriter, r *http.Request) {
	out := map[string]*KeySetInfo{}
	if s.keys != nil {
		for name, set := range s.keys.KeySets() {
			if set == nil {
				out[name] = nil
				continue
			}
			info := &KeySetInfo{
				Issuer:       set.Issuer,
				FetchedAt:    set.FetchedAt,
				RefreshAfter: set.RefreshAfter,
				ExpiresAt:    set.ExpiresAt,
			}
			for kid := range set.Keys {
				info.KeyIDs = append(info.KeyIDs, kid)
			}
			out[name] = info
		}
	}
	presenter.JSON(w, r, out, http.StatusOK)
}
