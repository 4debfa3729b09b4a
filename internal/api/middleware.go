package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/types"
)

func errorHandler(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				logger.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				writeJson(logger, w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware accepts a user token from the Authorization header, the
// token cookie or the token query parameter.
func (s *MessengerApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Tokens.ParseUserToken(auth.TokenFromRequest(r))
		if err != nil {
			s.log.Printf("authenticate %s %s: %v", r.Method, r.URL.Path, err)
			errResp := NewUnauthorizedError()
			writeJson(s.log, w, errResp.StatusCode, errResp)
			return
		}

		ctx := auth.WithUser(r.Context(), user)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func (s *MessengerApp) supervisorOnly(next http.HandlerFunc) http.HandlerFunc {
	return s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := auth.User(r.Context()); !ok || user.Role != types.RoleSupervisor {
			errResp := NewForbiddenError()
			writeJson(s.log, w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	})
}
