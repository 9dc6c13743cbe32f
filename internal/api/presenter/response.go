package presenter

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

// InvalidSessionMessage is sent for expired or forged admin session tokens.
const InvalidSessionMessage = "invalid session token"

type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func JSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to write json response")
	}
}

func Error(w http.ResponseWriter, r *http.Request, msg string, status int) {
	JSON(w, r, ErrorResponse{
		Error:         msg,
		CorrelationID: logging.CorrelationID(r.Context()),
	}, status)
}

// Err writes err with the status of a wrapped service.HTTPError, or 400.
func Err(w http.ResponseWriter, r *http.Request, err error, short string) {
	status := service.StatusCode(err, http.StatusBadRequest)
	if status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Msg(short)
	} else {
		log.Ctx(r.Context()).Warn().Err(err).Msg(short)
	}
	Error(w, r, short+": "+err.Error(), status)
}
