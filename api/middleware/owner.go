package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/api/responses"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
	"github.com/veridex/veridex-backend/pkg/logger"
)

const ownerIDHeader = "X-Owner-Id"

type contextKey string

const ctxOwnerID contextKey = "owner_id"

// OwnerIDFromContext returns the authenticated owner or uuid.Nil.
func OwnerIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxOwnerID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithOwnerID injects the owner identifier into the context.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOwnerID, ownerID)
}

// OwnerIdentity extracts the caller identity from the X-Owner-Id header.
// Identity federation happens at the gateway, so the header is trusted here.
func OwnerIdentity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw := r.Header.Get(ownerIDHeader)
			if raw == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "owner identity header required"))
				return
			}
			ownerID, err := uuid.Parse(raw)
			if err != nil || ownerID == uuid.Nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "owner identity header must be a uuid"))
				return
			}

			ctx = WithOwnerID(ctx, ownerID)
			if logg != nil {
				ctx = logg.WithOwnerID(ctx, ownerID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
