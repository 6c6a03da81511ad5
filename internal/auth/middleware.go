package auth

import (
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/common"
)

// Verifier validates bearer tokens and attaches the user id to the request
// context.
type Verifier struct {
	Secret   []byte
	Issuer   string
	Audience string
	Logger   zerolog.Logger
}

// Middleware rejects requests without a valid bearer token.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing bearer token", nil)
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		opts := []jwt.ParseOption{
			jwt.WithKey(jwa.HS256, v.Secret),
			jwt.WithValidate(true),
		}
		if v.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(v.Issuer))
		}
		if v.Audience != "" {
			opts = append(opts, jwt.WithAudience(v.Audience))
		}
		token, err := jwt.Parse([]byte(raw), opts...)
		if err != nil {
			v.Logger.Debug().Err(err).Msg("token rejected")
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid or expired token", nil)
			return
		}
		subject := token.Subject()
		if subject == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "token has no subject", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), subject)))
	})
}
