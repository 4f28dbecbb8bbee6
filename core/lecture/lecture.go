package lecture

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Lecture struct {
	ID           string    `json:"id" db:"lecture_id"`
	SectionID    string    `json:"sectionId" db:"section_id"`
	InstructorID string    `json:"instructorId" db:"instructor_id"`
	Name         string    `json:"name" db:"name"`
	VideoURL     string    `json:"videoUrl" db:"video_url"`
	Duration     string    `json:"duration" db:"duration"`
	Position     int       `json:"position" db:"position"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

type Update struct {
	ID       string `db:"lecture_id"`
	Name     string `db:"name"`
	Duration string `db:"duration"`
	Position int    `db:"position"`
}

func CreateBulk(ctx context.Context, db sqlx.ExtContext, ls []Lecture) error {
	if len(ls) == 0 {
		return nil
	}

	const q = `
	INSERT INTO lecture
		(lecture_id, section_id, instructor_id, name, video_url, duration, position, created_at, updated_at)
	VALUES
		(:lecture_id, :section_id, :instructor_id, :name, :video_url, :duration, :position, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, ls); err != nil {
		return fmt.Errorf("inserting lectures: %w", err)
	}

	return nil
}

func UpdateMeta(ctx context.Context, db sqlx.ExtContext, up Update) error {
	const q = `
	UPDATE lecture SET
		name = :name,
		duration = :duration,
		position = :position,
		updated_at = now()
	WHERE lecture_id = :lecture_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, up); err != nil {
		return fmt.Errorf("updating lecture[%s]: %w", up.ID, err)
	}

	return nil
}

func UpdateVideoURL(ctx context.Context, db sqlx.ExtContext, id string, url string) error {
	const q = `UPDATE lecture SET video_url = $2, updated_at = now() WHERE lecture_id = $1`

	if _, err := db.ExecContext(ctx, q, id, url); err != nil {
		return fmt.Errorf("updating video of lecture[%s]: %w", id, err)
	}

	return nil
}

func FetchBySection(ctx context.Context, db sqlx.ExtContext, sectionID string) ([]Lecture, error) {
	const q = `SELECT * FROM lecture WHERE section_id = $1 ORDER BY position, created_at`

	var ls []Lecture
	if err := sqlx.SelectContext(ctx, db, &ls, q, sectionID); err != nil {
		return nil, fmt.Errorf("selecting lectures of section[%s]: %w", sectionID, err)
	}

	return ls, nil
}

func DeleteByIDs(ctx context.Context, db sqlx.ExtContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	const q = `DELETE FROM lecture WHERE lecture_id = ANY($1)`

	if _, err := db.ExecContext(ctx, q, pq.Array(ids)); err != nil {
		return fmt.Errorf("deleting lectures: %w", err)
	}

	return nil
}
