package enrollment

import (
	"context"
	"fmt"

	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"

	"time"
)

// Fulfill records a paid course sale: the audit row and the access grant
// commit together, so a customer is never charged without being enrolled
// nor enrolled without an audit trail.
func Fulfill(ctx context.Context, db *sqlx.DB, courseID, instructorID, customerID string, price int) error {
	now := time.Now().UTC()

	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		sale := CourseSaleHistory{
			ID:           validate.GenerateID(),
			CourseID:     courseID,
			InstructorID: instructorID,
			CustomerID:   customerID,
			Price:        price,
			CreatedAt:    now,
		}
		if err := CreateSale(ctx, tx, sale); err != nil {
			return err
		}

		enr := Enroll{
			ID:         validate.GenerateID(),
			CourseID:   courseID,
			CustomerID: customerID,
			CreatedAt:  now,
		}
		return CreateEnroll(ctx, tx, enr)
	})

	if err != nil {
		return fmt.Errorf("fulfilling course[%s] for customer[%s]: %w", courseID, customerID, err)
	}
	return nil
}
