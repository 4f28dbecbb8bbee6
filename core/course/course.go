package course

import (
	"time"

	"github.com/agteach/marketplace/core/lecture"
	"github.com/agteach/marketplace/core/section"
)

type Course struct {
	ID              string    `json:"id" db:"course_id"`
	InstructorID    string    `json:"instructorId" db:"instructor_id"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description" db:"description"`
	Objective       string    `json:"objective" db:"objective"`
	Price           int       `json:"price" db:"price"`
	Duration        string    `json:"duration" db:"duration"`
	NumberOfVideo   int       `json:"numberOfVideo" db:"number_of_video"`
	PreviewVideoURL string    `json:"previewVideoUrl" db:"preview_video_url"`
	ThumbnailURL    string    `json:"thumbnailUrl" db:"thumbnail_url"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Outline is a course with its ordered sections and lectures, the unit
// the reconciler diffs against.
type Outline struct {
	Course   Course           `json:"course"`
	Sections []OutlineSection `json:"sections"`
}

type OutlineSection struct {
	Section  section.Section   `json:"section"`
	Lectures []lecture.Lecture `json:"lectures"`
}

// SubmittedSection is one entry of the instructor's desired outline. A
// missing SectionID marks a section that does not exist yet.
type SubmittedSection struct {
	SectionID   string             `json:"sectionId"`
	SectionName string             `json:"sectionName" validate:"required"`
	AllLecture  []SubmittedLecture `json:"allLecture" validate:"dive"`
}

type SubmittedLecture struct {
	LectureID       string `json:"lectureId"`
	LectureName     string `json:"lectureName" validate:"required"`
	LectureDuration string `json:"lectureDuration"`
}

type CourseNew struct {
	Name          string `validate:"required"`
	Description   string
	Objective     string
	Price         int `validate:"gte=0"`
	Duration      string
	NumberOfVideo int
}

type CourseUp struct {
	Name          string `validate:"required"`
	Description   string
	Objective     string
	Price         int `validate:"gte=0"`
	Duration      string
	NumberOfVideo int
}
