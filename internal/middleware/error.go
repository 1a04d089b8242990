package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"

	"booking-calendar-api/internal/apperr"
)

type ErrorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

// WriteError renders err as {"error": kind, "message": text}.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		log.Printf("internal error: %v", err)
	}
	WriteJSON(w, apperr.Status(kind), ErrorResponse{Error: kind, Message: apperr.Message(err)})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Recover turns a panic into a 500 so one bad request cannot take the
// process down.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic recovered: %v\n%s", rec, debug.Stack())
				WriteError(w, apperr.New(apperr.Internal, "unexpected error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
