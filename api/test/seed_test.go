package test

import (
	"context"
	"testing"
	"time"

	"github.com/agteach/marketplace/core/course"
	"github.com/agteach/marketplace/core/product"
	"github.com/agteach/marketplace/validate"
)

func (env *TestEnv) createCourse(t *testing.T, name string, price int) course.Course {
	t.Helper()

	now := time.Now().UTC()
	c := course.Course{
		ID:              validate.GenerateID(),
		InstructorID:    env.InstructorID,
		Name:            name,
		Description:     "a test course",
		Objective:       "learn things",
		Price:           price,
		Duration:        "01:00:00",
		NumberOfVideo:   0,
		PreviewVideoURL: course.DefaultVideoURL,
		ThumbnailURL:    "https://placehold.co/400",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := course.Create(context.Background(), env.DB, c); err != nil {
		t.Fatalf("creating course: %v", err)
	}

	return c
}

func (env *TestEnv) createProduct(t *testing.T, name string, price, quantity int) product.Product {
	t.Helper()

	now := time.Now().UTC()
	p := product.Product{
		ID:           validate.GenerateID(),
		InstructorID: env.InstructorID,
		Name:         name,
		Price:        price,
		Quantity:     quantity,
		ImageURL:     "https://placehold.co/200",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := product.Create(context.Background(), env.DB, p); err != nil {
		t.Fatalf("creating product: %v", err)
	}

	return p
}
