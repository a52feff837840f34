package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/room"
)

var validate = validator.New()

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// decodeValid reads a JSON body into dst and runs its validate tags. It
// answers 400 itself and returns false on failure.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "bad json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondError(w, http.StatusBadRequest, verrs[0].Field()+" is invalid ("+verrs[0].Tag()+")")
			return false
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondGatewayError maps an AI gateway failure onto an HTTP status.
func respondGatewayError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch aigateway.KindOf(err) {
	case aigateway.KindConnectivity, aigateway.KindCanceled:
		status = http.StatusServiceUnavailable
	case aigateway.KindTimeout:
		status = http.StatusGatewayTimeout
	case aigateway.KindValidation:
		status = http.StatusBadRequest
	}
	respondError(w, status, err.Error())
}

// respondStoreError maps store sentinels; anything else is a 500.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, classroom.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, classroom.ErrPaperLocked),
		errors.Is(err, classroom.ErrDuplicateEmail),
		errors.Is(err, classroom.ErrDuplicateRoomCode),
		errors.Is(err, classroom.ErrRoomInactive):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, room.ErrNotOwner):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("api: store: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseIntDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return def
}
