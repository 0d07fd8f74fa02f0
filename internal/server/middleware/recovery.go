package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/costscope/costscope/internal/errors"
)

// Recovery converts handler panics into a 500 error envelope instead of
// tearing down the connection.
func Recovery(logger *zap.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestID := GetRequestID(r.Context())
				logger.Error("Handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID))
				apperrors.WriteError(w, http.StatusInternalServerError,
					apperrors.CodeInternal,
					fmt.Sprintf("panic: %v", rec), requestID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
