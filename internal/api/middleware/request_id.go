package middleware

import (
	"context"
	"net/http"

	"github.com/lzjever/ledgerseal/internal/core"
)

// RequestIDHeader carries the id that becomes the correlation id of audit
// events appended while serving the request.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds client-supplied ids before they enter the chain.
const maxRequestIDLen = 128

type ledgerRequestIDKey struct{}

// RequestID accepts a well-formed client X-Request-ID or mints one, stores it
// in the context and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = core.NewID()
		}
		ctx := context.WithValue(r.Context(), ledgerRequestIDKey{}, requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID allows printable ASCII without spaces.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(ledgerRequestIDKey{}).(string); ok {
		return id
	}
	if id := r.Header.Get(RequestIDHeader); validRequestID(id) {
		return id
	}
	return ""
}
