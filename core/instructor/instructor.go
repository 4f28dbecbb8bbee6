package instructor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("instructor not found")

type Instructor struct {
	ID        string    `json:"id" db:"instructor_id"`
	UserID    string    `json:"userId" db:"user_id"`
	FirstName string    `json:"firstName" db:"first_name"`
	LastName  string    `json:"lastName" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

func Create(ctx context.Context, db sqlx.ExtContext, ins Instructor) error {
	const q = `
	INSERT INTO instructor
		(instructor_id, user_id, first_name, last_name, email, created_at, updated_at)
	VALUES
		(:instructor_id, :user_id, :first_name, :last_name, :email, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, ins); err != nil {
		return fmt.Errorf("inserting instructor: %w", err)
	}

	return nil
}

func FetchByUserID(ctx context.Context, db sqlx.ExtContext, userID string) (Instructor, error) {
	const q = `SELECT * FROM instructor WHERE user_id = $1`

	var ins Instructor
	if err := sqlx.GetContext(ctx, db, &ins, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instructor{}, ErrNotFound
		}
		return Instructor{}, fmt.Errorf("selecting instructor of user[%s]: %w", userID, err)
	}

	return ins, nil
}
