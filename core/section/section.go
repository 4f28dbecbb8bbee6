package section

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Section struct {
	ID           string    `json:"id" db:"section_id"`
	CourseID     string    `json:"courseId" db:"course_id"`
	InstructorID string    `json:"instructorId" db:"instructor_id"`
	Name         string    `json:"name" db:"name"`
	Position     int       `json:"position" db:"position"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

func Create(ctx context.Context, db sqlx.ExtContext, s Section) error {
	const q = `
	INSERT INTO section
		(section_id, course_id, instructor_id, name, position, created_at, updated_at)
	VALUES
		(:section_id, :course_id, :instructor_id, :name, :position, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, s); err != nil {
		return fmt.Errorf("inserting section: %w", err)
	}

	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, id string, name string, position int) error {
	const q = `
	UPDATE section SET
		name = $2,
		position = $3,
		updated_at = now()
	WHERE section_id = $1`

	if _, err := db.ExecContext(ctx, q, id, name, position); err != nil {
		return fmt.Errorf("updating section[%s]: %w", id, err)
	}

	return nil
}

func FetchByCourse(ctx context.Context, db sqlx.ExtContext, courseID string) ([]Section, error) {
	const q = `SELECT * FROM section WHERE course_id = $1 ORDER BY position, created_at`

	var ss []Section
	if err := sqlx.SelectContext(ctx, db, &ss, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting sections of course[%s]: %w", courseID, err)
	}

	return ss, nil
}

// DeleteByIDs removes the sections and cascades to their lectures.
func DeleteByIDs(ctx context.Context, db sqlx.ExtContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	const q = `DELETE FROM section WHERE section_id = ANY($1)`

	if _, err := db.ExecContext(ctx, q, pq.Array(ids)); err != nil {
		return fmt.Errorf("deleting sections: %w", err)
	}

	return nil
}
