package middleware

import (
	"net/http"

	"dexarb/pkg/crypto"
	"dexarb/pkg/utils"
)

// BearerAuth - middleware проверки "Authorization: Bearer <token>"
//
// Выключенный verifier (пустой секрет) пропускает все запросы.
// При несовпадении ответ 401 с WWW-Authenticate.
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.BearerAuth(verifier, logger))
func BearerAuth(verifier *crypto.TokenVerifier, logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil || verifier.VerifyHeader(r.Header.Get("Authorization")) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("api request unauthorized",
				utils.String("path", r.URL.Path),
				utils.ClientAddr(r.RemoteAddr),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
