package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

const maxBodySize = 64 << 10

type AuthenticatePayload struct {
	// Provider selects the cloud provider adapter the credential is issued by.
	Provider string `json:"provider"`
}

func DecodePayload(r *http.Request, dest any, allowEmpty bool) error {
	switch r.Header.Get("Content-Type") {
	case "application/json", "":
		// strict encoding for JSON
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dest); err != nil {
			if !errors.Is(err, io.EOF) || !allowEmpty {
				return err
			}
		}
		// ensure there's no extra data
		if dec.More() {
			return errors.New("extra data in request body")
		}
		return nil
	default:
		return errors.New("unsupported content type")
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleAuthenticate exchanges the identity token in the Authorization header
// for a credential of the requested provider.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload AuthenticatePayload
	if err := DecodePayload(r, &payload, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode authenticate payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	token := bearerToken(r)
	if token == "" {
		presenter.Error(w, r, "missing Authorization header", http.StatusUnauthorized)
		return
	}

	resp, err := s.service.Authenticate(ctx, service.AuthenticateRequest{
		Token:         token,
		Provider:      payload.Provider,
		SourceIP:      sourceIP(r),
		CorrelationID: logging.CorrelationID(ctx),
	})
	if err != nil {
		presenter.Err(w, r, err, "authentication failed")
		return
	}

	presenter.JSON(w, r, resp, service.DecisionStatus(resp.Decision))
}
