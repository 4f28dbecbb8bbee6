package enrollment

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateEnroll grants course access. The insert is replay-safe: a
// redelivered payment event hits the (course_id, customer_id) constraint
// and leaves the original grant untouched.
func CreateEnroll(ctx context.Context, db sqlx.ExtContext, e Enroll) error {
	const q = `
	INSERT INTO enroll
		(enroll_id, course_id, customer_id, created_at)
	VALUES
		(:enroll_id, :course_id, :customer_id, :created_at)
	ON CONFLICT (course_id, customer_id) DO NOTHING`

	if _, err := sqlx.NamedExecContext(ctx, db, q, e); err != nil {
		return fmt.Errorf("inserting enrollment: %w", err)
	}

	return nil
}

func CreateSale(ctx context.Context, db sqlx.ExtContext, s CourseSaleHistory) error {
	const q = `
	INSERT INTO course_sale_history
		(sale_id, course_id, instructor_id, customer_id, price, created_at)
	VALUES
		(:sale_id, :course_id, :instructor_id, :customer_id, :price, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, s); err != nil {
		return fmt.Errorf("inserting course sale: %w", err)
	}

	return nil
}

func IsEnrolled(ctx context.Context, db sqlx.ExtContext, courseID, customerID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM enroll WHERE course_id = $1 AND customer_id = $2`

	var count int
	if err := sqlx.GetContext(ctx, db, &count, q, courseID, customerID); err != nil {
		return false, fmt.Errorf("checking enrollment: %w", err)
	}

	return count > 0, nil
}

func FetchByCustomer(ctx context.Context, db sqlx.ExtContext, customerID string) ([]Enroll, error) {
	const q = `SELECT * FROM enroll WHERE customer_id = $1 ORDER BY created_at`

	var es []Enroll
	if err := sqlx.SelectContext(ctx, db, &es, q, customerID); err != nil {
		return nil, fmt.Errorf("selecting enrollments of customer[%s]: %w", customerID, err)
	}

	return es, nil
}

func FetchSalesByCourse(ctx context.Context, db sqlx.ExtContext, courseID string) ([]CourseSaleHistory, error) {
	const q = `SELECT * FROM course_sale_history WHERE course_id = $1 ORDER BY created_at`

	var ss []CourseSaleHistory
	if err := sqlx.SelectContext(ctx, db, &ss, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting sales of course[%s]: %w", courseID, err)
	}

	return ss, nil
}
