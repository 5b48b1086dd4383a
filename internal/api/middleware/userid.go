package middleware

import (
	"context"
	"net/http"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/response"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/validation"
)

// UserIDHeader carries the tracker user on whose behalf a request is made.
// Authenticating that user is the job of the gateway in front of this service.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// RequireUserID validates the X-User-ID header and stores the user ID in the
// request context. Returns 401 Unauthorized if the header is missing and 400
// Bad Request if it is not a UUID.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)

		if userID == "" {
			response.RespondError(w, http.StatusUnauthorized, "user ID is required", "missing "+UserIDHeader+" header")
			return
		}

		if err := validation.ValidateUUID(userID); err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid user ID", err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the user ID stored by RequireUserID, or "".
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
