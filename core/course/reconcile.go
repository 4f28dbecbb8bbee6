package course

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/agteach/marketplace/core/lecture"
	"github.com/agteach/marketplace/core/section"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/storage"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// DefaultVideoURL is the placeholder reference a lecture keeps until a
// video file is uploaded for it.
const DefaultVideoURL = "https://northatlanticaviationmuseum.com/wp-content/uploads/2020/10/Lorem-ipsum-video-Dummy-video-for-your-website.mp4?_=2"

// Coordinate addresses one uploaded media file to its logical lecture.
// Existing entities are keyed by their real id; entities that do not
// exist yet are keyed by a request-local sequence index: new sections by
// their arrival order among new sections, new lectures by their arrival
// order among the new lectures of their section.
type Coordinate struct {
	SectionKey string
	LectureKey string
}

// Media carries the uploaded video files keyed by coordinate.
type Media map[Coordinate]io.Reader

// Plan is the minimal set of writes reconciling the submitted outline
// with the persisted one. Building it performs no mutation.
type Plan struct {
	CourseID string

	SectionDeletes []string
	SectionCreates []section.Section
	SectionUpdates []section.Section

	LectureDeletes []string
	LectureCreates []PlannedLecture
	LectureUpdates []lecture.Update

	// MediaCoords maps every surviving lecture id to the coordinate an
	// uploaded replacement video would carry for it.
	MediaCoords map[string]Coordinate

	// MediaDeletes holds the video URLs of every lecture the plan
	// removes, directly or through a section delete.
	MediaDeletes []string
}

// PlannedLecture is a lecture create still waiting for its media file,
// addressed by the request-local coordinate.
type PlannedLecture struct {
	Lecture lecture.Lecture
	Coord   Coordinate
}

func (p Plan) Empty() bool {
	return len(p.SectionDeletes) == 0 && len(p.SectionCreates) == 0 && len(p.SectionUpdates) == 0 &&
		len(p.LectureDeletes) == 0 && len(p.LectureCreates) == 0 && len(p.LectureUpdates) == 0
}

// BuildPlan diffs the submitted outline against the persisted one.
//
// Persisted section and lecture ids absent from the submission are
// scheduled for deletion; submitted entries carrying an id are updated
// only when a field actually changed; entries without an id become
// creates with app-side generated ids, remembered under their
// request-local coordinate so media files can be resolved to them.
func BuildPlan(existing Outline, submitted []SubmittedSection, instructorID string, now time.Time) (Plan, error) {
	plan := Plan{
		CourseID:    existing.Course.ID,
		MediaCoords: make(map[string]Coordinate),
	}

	existingSections := make(map[string]OutlineSection, len(existing.Sections))
	for _, os := range existing.Sections {
		existingSections[os.Section.ID] = os
	}

	submittedSections := make(map[string]bool, len(submitted))
	for _, sub := range submitted {
		if sub.SectionID == "" {
			continue
		}
		if submittedSections[sub.SectionID] {
			return Plan{}, fmt.Errorf("section[%s] submitted more than once", sub.SectionID)
		}
		if _, ok := existingSections[sub.SectionID]; !ok {
			return Plan{}, fmt.Errorf("section[%s] does not belong to course[%s]", sub.SectionID, existing.Course.ID)
		}
		submittedSections[sub.SectionID] = true
	}

	for _, os := range existing.Sections {
		if !submittedSections[os.Section.ID] {
			plan.SectionDeletes = append(plan.SectionDeletes, os.Section.ID)
			for _, l := range os.Lectures {
				plan.MediaDeletes = append(plan.MediaDeletes, l.VideoURL)
			}
		}
	}

	newSectionIdx := 0
	for pos, sub := range submitted {
		var sectionID, sectionKey string
		var existingLectures []lecture.Lecture

		if sub.SectionID != "" {
			os := existingSections[sub.SectionID]
			sectionID, sectionKey = os.Section.ID, os.Section.ID
			existingLectures = os.Lectures

			if os.Section.Name != sub.SectionName || os.Section.Position != pos {
				up := os.Section
				up.Name = sub.SectionName
				up.Position = pos
				plan.SectionUpdates = append(plan.SectionUpdates, up)
			}
		} else {
			sectionID = validate.GenerateID()
			sectionKey = strconv.Itoa(newSectionIdx)
			newSectionIdx++

			plan.SectionCreates = append(plan.SectionCreates, section.Section{
				ID:           sectionID,
				CourseID:     existing.Course.ID,
				InstructorID: instructorID,
				Name:         sub.SectionName,
				Position:     pos,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}

		if err := planLectures(&plan, sub, sectionID, sectionKey, existingLectures, instructorID, pos, now); err != nil {
			return Plan{}, err
		}
	}

	return plan, nil
}

func planLectures(plan *Plan, sub SubmittedSection, sectionID, sectionKey string, existing []lecture.Lecture, instructorID string, sectionPos int, now time.Time) error {
	existingLectures := make(map[string]lecture.Lecture, len(existing))
	for _, l := range existing {
		existingLectures[l.ID] = l
	}

	submittedLectures := make(map[string]bool, len(sub.AllLecture))
	for _, sl := range sub.AllLecture {
		if sl.LectureID == "" {
			continue
		}
		if submittedLectures[sl.LectureID] {
			return fmt.Errorf("lecture[%s] submitted more than once", sl.LectureID)
		}
		if _, ok := existingLectures[sl.LectureID]; !ok {
			return fmt.Errorf("lecture[%s] does not belong to section[%s]", sl.LectureID, sectionID)
		}
		submittedLectures[sl.LectureID] = true
	}

	for _, l := range existing {
		if !submittedLectures[l.ID] {
			plan.LectureDeletes = append(plan.LectureDeletes, l.ID)
			plan.MediaDeletes = append(plan.MediaDeletes, l.VideoURL)
		}
	}

	newLectureIdx := 0
	for pos, sl := range sub.AllLecture {
		if sl.LectureID != "" {
			cur := existingLectures[sl.LectureID]

			if cur.Name != sl.LectureName || cur.Duration != sl.LectureDuration || cur.Position != pos {
				plan.LectureUpdates = append(plan.LectureUpdates, lecture.Update{
					ID:       sl.LectureID,
					Name:     sl.LectureName,
					Duration: sl.LectureDuration,
					Position: pos,
				})
			}

			// Replacement videos for persisted lectures are always
			// addressed by the real ids.
			plan.MediaCoords[sl.LectureID] = Coordinate{SectionKey: sectionKey, LectureKey: sl.LectureID}
			continue
		}

		id := validate.GenerateID()
		coord := Coordinate{SectionKey: sectionKey, LectureKey: strconv.Itoa(newLectureIdx)}
		newLectureIdx++

		duration := sl.LectureDuration
		if duration == "" {
			duration = "00:00:00"
		}

		plan.LectureCreates = append(plan.LectureCreates, PlannedLecture{
			Lecture: lecture.Lecture{
				ID:           id,
				SectionID:    sectionID,
				InstructorID: instructorID,
				Name:         sl.LectureName,
				VideoURL:     DefaultVideoURL,
				Duration:     duration,
				Position:     pos,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			Coord: coord,
		})
		plan.MediaCoords[id] = coord
	}

	return nil
}

// Apply executes the plan and the scalar course update in one
// transaction. Uploaded media addressed to a surviving lecture is pushed
// to storage and its public URL recorded before commit, so a storage
// failure rolls the outline back with everything else. Objects belonging
// to deleted lectures are removed from storage best-effort only.
func Apply(ctx context.Context, db *sqlx.DB, store storage.Client, log logrus.FieldLogger, plan Plan, up CourseUp, media Media, thumbnail io.Reader) error {
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		if err := Update(ctx, tx, plan.CourseID, up); err != nil {
			return err
		}

		if thumbnail != nil {
			url, err := store.Upload(ctx, storage.ThumbnailKey(plan.CourseID), thumbnail, "image/jpeg")
			if err != nil {
				return fmt.Errorf("uploading thumbnail: %w", err)
			}
			if err := UpdateThumbnailURL(ctx, tx, plan.CourseID, url); err != nil {
				return err
			}
		}

		for _, url := range plan.MediaDeletes {
			if url == "" || url == DefaultVideoURL {
				continue
			}
			if err := store.Delete(ctx, store.KeyFromURL(url)); err != nil {
				log.WithFields(logrus.Fields{"url": url, "message": err}).Warn("deleting stored video")
			}
		}

		if err := section.DeleteByIDs(ctx, tx, plan.SectionDeletes); err != nil {
			return err
		}

		for _, s := range plan.SectionCreates {
			if err := section.Create(ctx, tx, s); err != nil {
				return err
			}
		}

		for _, s := range plan.SectionUpdates {
			if err := section.Update(ctx, tx, s.ID, s.Name, s.Position); err != nil {
				return err
			}
		}

		if err := lecture.DeleteByIDs(ctx, tx, plan.LectureDeletes); err != nil {
			return err
		}

		creates := make([]lecture.Lecture, 0, len(plan.LectureCreates))
		for _, pl := range plan.LectureCreates {
			creates = append(creates, pl.Lecture)
		}
		if err := lecture.CreateBulk(ctx, tx, creates); err != nil {
			return err
		}

		for _, lu := range plan.LectureUpdates {
			if err := lecture.UpdateMeta(ctx, tx, lu); err != nil {
				return err
			}
		}

		for id, coord := range plan.MediaCoords {
			body, ok := media[coord]
			if !ok {
				continue
			}

			pl := plan.lectureByID(id)
			key := storage.VideoKey(plan.CourseID, pl.SectionID, pl.ID)
			url, err := store.Upload(ctx, key, body, "video/mp4")
			if err != nil {
				return fmt.Errorf("uploading video for lecture[%s]: %w", id, err)
			}

			if err := lecture.UpdateVideoURL(ctx, tx, id, url); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("reconciling course[%s]: %w", plan.CourseID, err)
	}

	return nil
}

// lectureByID resolves a lecture id from the plan back to its section,
// covering both created and surviving lectures.
func (p Plan) lectureByID(id string) lecture.Lecture {
	for _, pl := range p.LectureCreates {
		if pl.Lecture.ID == id {
			return pl.Lecture
		}
	}
	return lecture.Lecture{ID: id, SectionID: p.sectionOfSurvivor(id)}
}

func (p Plan) sectionOfSurvivor(id string) string {
	coord, ok := p.MediaCoords[id]
	if !ok {
		return ""
	}
	return coord.SectionKey
}
