package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/core/claims"
	"github.com/agteach/marketplace/core/customer"
	"github.com/agteach/marketplace/core/instructor"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/validate"
	"github.com/alexedwards/scs/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

func HandleSignup(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var su SignupNew
		if err := web.Decode(w, r, &su); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(su); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		now := time.Now().UTC()
		usr := User{
			ID:           validate.GenerateID(),
			Email:        su.Email,
			PasswordHash: hash,
			Role:         su.Role,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = database.Transaction(db, func(tx sqlx.ExtContext) error {
			if err := Create(ctx, tx, usr); err != nil {
				return err
			}

			// Every account owns exactly one profile row; downstream
			// tables key on the profile id, not the user id.
			switch su.Role {
			case claims.RoleCustomer:
				return customer.Create(ctx, tx, customer.Customer{
					ID:        validate.GenerateID(),
					UserID:    usr.ID,
					Email:     usr.Email,
					CreatedAt: now,
					UpdatedAt: now,
				})
			case claims.RoleInstructor:
				return instructor.Create(ctx, tx, instructor.Instructor{
					ID:        validate.GenerateID(),
					UserID:    usr.ID,
					Email:     usr.Email,
					CreatedAt: now,
					UpdatedAt: now,
				})
			}
			return nil
		})
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return weberr.NewError(err, "email already registered", http.StatusUnprocessableEntity)
			}
			return fmt.Errorf("creating user: %w", err)
		}

		login(ctx, session, usr)
		return web.Respond(ctx, w, usr, http.StatusCreated)
	}
}

func HandleLogin(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var ln LoginNew
		if err := web.Decode(w, r, &ln); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(ln); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		usr, err := FetchByEmail(ctx, db, ln.Email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotAuthorized(errors.New("invalid credentials"))
			}
			return fmt.Errorf("fetching user: %w", err)
		}

		if err := bcrypt.CompareHashAndPassword(usr.PasswordHash, []byte(ln.Password)); err != nil {
			return weberr.NotAuthorized(errors.New("invalid credentials"))
		}

		if err := session.RenewToken(ctx); err != nil {
			return fmt.Errorf("renewing session token: %w", err)
		}

		login(ctx, session, usr)
		return web.Respond(ctx, w, usr, http.StatusOK)
	}
}

func HandleLogout(session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := session.Destroy(ctx); err != nil {
			return fmt.Errorf("destroying session: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func login(ctx context.Context, session *scs.SessionManager, usr User) {
	session.Put(ctx, sessionUserID, usr.ID)
	session.Put(ctx, sessionEmail, usr.Email)
	session.Put(ctx, sessionRole, usr.Role)
}
