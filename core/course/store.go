package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agteach/marketplace/core/lecture"
	"github.com/agteach/marketplace/core/section"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("course not found")

func Create(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	INSERT INTO course
		(course_id, instructor_id, name, description, objective, price, duration,
		 number_of_video, preview_video_url, thumbnail_url, created_at, updated_at)
	VALUES
		(:course_id, :instructor_id, :name, :description, :objective, :price, :duration,
		 :number_of_video, :preview_video_url, :thumbnail_url, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Course, error) {
	const q = `SELECT * FROM course WHERE course_id = $1`

	var c Course
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, fmt.Errorf("selecting course[%s]: %w", id, err)
	}

	return c, nil
}

func Update(ctx context.Context, db sqlx.ExtContext, id string, up CourseUp) error {
	const q = `
	UPDATE course SET
		name = $2,
		description = $3,
		objective = $4,
		price = $5,
		duration = $6,
		number_of_video = $7,
		updated_at = now()
	WHERE course_id = $1`

	_, err := db.ExecContext(ctx, q, id, up.Name, up.Description, up.Objective, up.Price, up.Duration, up.NumberOfVideo)
	if err != nil {
		return fmt.Errorf("updating course[%s]: %w", id, err)
	}

	return nil
}

func UpdateThumbnailURL(ctx context.Context, db sqlx.ExtContext, id string, url string) error {
	const q = `UPDATE course SET thumbnail_url = $2, updated_at = now() WHERE course_id = $1`

	if _, err := db.ExecContext(ctx, q, id, url); err != nil {
		return fmt.Errorf("updating thumbnail of course[%s]: %w", id, err)
	}

	return nil
}

// Delete removes the course; sections and lectures follow by cascade.
func Delete(ctx context.Context, db sqlx.ExtContext, id string) error {
	const q = `DELETE FROM course WHERE course_id = $1`

	res, err := db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deleting course[%s]: %w", id, err)
	}

	if count, err := res.RowsAffected(); err == nil && count == 0 {
		return ErrNotFound
	}

	return nil
}

// FetchOutline loads the course with its sections and lectures in their
// stored order.
func FetchOutline(ctx context.Context, db sqlx.ExtContext, id string) (Outline, error) {
	c, err := Fetch(ctx, db, id)
	if err != nil {
		return Outline{}, err
	}

	ss, err := section.FetchByCourse(ctx, db, id)
	if err != nil {
		return Outline{}, err
	}

	out := Outline{Course: c, Sections: make([]OutlineSection, 0, len(ss))}
	for _, s := range ss {
		ls, err := lecture.FetchBySection(ctx, db, s.ID)
		if err != nil {
			return Outline{}, err
		}
		out.Sections = append(out.Sections, OutlineSection{Section: s, Lectures: ls})
	}

	return out, nil
}
