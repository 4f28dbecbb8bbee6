package enrollment

import "time"

type Enroll struct {
	ID         string    `json:"id" db:"enroll_id"`
	CourseID   string    `json:"courseId" db:"course_id"`
	CustomerID string    `json:"customerId" db:"customer_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// CourseSaleHistory is the immutable audit record of one course sale.
type CourseSaleHistory struct {
	ID           string    `json:"id" db:"sale_id"`
	CourseID     string    `json:"courseId" db:"course_id"`
	InstructorID string    `json:"instructorId" db:"instructor_id"`
	CustomerID   string    `json:"customerId" db:"customer_id"`
	Price        int       `json:"price" db:"price"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

type CheckoutNew struct {
	CourseID string `json:"courseId" validate:"required"`
}
