package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/core/claims"
	"github.com/alexedwards/scs/v2"
)

const (
	sessionUserID = "user_id"
	sessionEmail  = "user_email"
	sessionRole   = "user_role"
)

// LoadAndSave bridges the scs session lifecycle into the handler chain
// and restores claims from the session cookie on every request.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error

			sh := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := r.Context()

				if uid := session.GetString(ctx, sessionUserID); uid != "" {
					ctx = claims.Set(ctx, claims.Claims{
						UserID: uid,
						Email:  session.GetString(ctx, sessionEmail),
						Role:   session.GetString(ctx, sessionRole),
					})
				}

				err = handler(ctx, w, r)
			})

			session.LoadAndSave(sh).ServeHTTP(w, r)
			return err
		}
		return h
	}
	return m
}

func Customer(session *scs.SessionManager) web.Middleware {
	return requireRole(claims.RoleCustomer)
}

func Instructor(session *scs.SessionManager) web.Middleware {
	return requireRole(claims.RoleInstructor)
}

func requireRole(role string) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, err := claims.Get(ctx)
			if err != nil {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}

			if clm.Role != role && clm.Role != claims.RoleAdmin {
				return weberr.NewError(
					errors.New("role not allowed to access resource"),
					"not allowed to access resource",
					http.StatusForbidden,
				)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
