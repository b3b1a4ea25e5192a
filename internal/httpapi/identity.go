package httpapi

import (
	"context"
	"net/http"

	"github.com/quorumforge/aiorch/internal/core"
)

type identityCtxKey struct{}

// identityMiddleware lifts the caller's Identity out of request headers.
// Producing an Identity from a JWT or API key is the (out of scope)
// surrounding auth layer's job (spec §1); this translator only trusts
// whatever headers that layer has already attached to the request by the
// time it reaches the core.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := core.Identity{
			UserID:   r.Header.Get("X-User-Id"),
			TenantID: r.Header.Get("X-Tenant-Id"),
			Role:     core.Role(r.Header.Get("X-User-Role")),
		}
		if identity.UserID == "" || !identity.Role.IsValid() {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Message: "missing or invalid identity headers"})
			return
		}
		ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) core.Identity {
	identity, _ := r.Context().Value(identityCtxKey{}).(core.Identity)
	return identity
}
