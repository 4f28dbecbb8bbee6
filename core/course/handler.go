package course

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/core/claims"
	"github.com/agteach/marketplace/core/instructor"
	"github.com/agteach/marketplace/core/lecture"
	"github.com/agteach/marketplace/core/section"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/storage"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const maxUploadBytes = 512 << 20

var videoFieldRe = regexp.MustCompile(`^videos\[([^\]]+)\]\[([^\]]+)\]$`)

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		out, err := FetchOutline(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, out, http.StatusOK)
	}
}

// HandleUpload creates a course together with its initial outline and
// media in one transaction.
func HandleUpload(db *sqlx.DB, store storage.Client, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		ins, err := requireInstructor(ctx, db)
		if err != nil {
			return err
		}

		form, err := parseMultipart(r)
		if err != nil {
			return err
		}
		defer form.close()

		if err := validate.Check(form.course); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}
		for _, sub := range form.sections {
			if err := validate.Check(sub); err != nil {
				return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
			}
		}

		now := time.Now().UTC()
		c := Course{
			ID:              validate.GenerateID(),
			InstructorID:    ins.ID,
			Name:            form.course.Name,
			Description:     form.course.Description,
			Objective:       form.course.Objective,
			Price:           form.course.Price,
			Duration:        form.course.Duration,
			NumberOfVideo:   form.course.NumberOfVideo,
			PreviewVideoURL: DefaultVideoURL,
			ThumbnailURL:    "https://placehold.co/400",
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		// An upload is a reconciliation against an empty outline.
		plan, err := BuildPlan(Outline{Course: c}, form.sections, ins.ID, now)
		if err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		err = database.Transaction(db, func(tx sqlx.ExtContext) error {
			if err := Create(ctx, tx, c); err != nil {
				return err
			}

			if form.thumbnail != nil {
				url, err := store.Upload(ctx, storage.ThumbnailKey(c.ID), form.thumbnail, "image/jpeg")
				if err != nil {
					return fmt.Errorf("uploading thumbnail: %w", err)
				}
				if err := UpdateThumbnailURL(ctx, tx, c.ID, url); err != nil {
					return err
				}
			}

			for _, s := range plan.SectionCreates {
				if err := section.Create(ctx, tx, s); err != nil {
					return err
				}
			}

			creates := make([]lecture.Lecture, 0, len(plan.LectureCreates))
			for _, pl := range plan.LectureCreates {
				creates = append(creates, pl.Lecture)
			}
			if err := lecture.CreateBulk(ctx, tx, creates); err != nil {
				return err
			}

			for _, pl := range plan.LectureCreates {
				body, ok := form.media[pl.Coord]
				if !ok {
					continue
				}

				key := storage.VideoKey(c.ID, pl.Lecture.SectionID, pl.Lecture.ID)
				url, err := store.Upload(ctx, key, body, "video/mp4")
				if err != nil {
					return fmt.Errorf("uploading video for lecture[%s]: %w", pl.Lecture.ID, err)
				}
				if err := lecture.UpdateVideoURL(ctx, tx, pl.Lecture.ID, url); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			return fmt.Errorf("creating course: %w", err)
		}

		out, err := FetchOutline(ctx, db, c.ID)
		if err != nil {
			return fmt.Errorf("fetching created course: %w", err)
		}

		return web.Respond(ctx, w, out, http.StatusCreated)
	}
}

// HandleUpdate reconciles the submitted outline with the persisted one:
// sections and lectures missing from the submission are deleted together
// with their media, submitted ones are updated or created, and the whole
// change either commits or rolls back as one unit.
func HandleUpdate(db *sqlx.DB, store storage.Client, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		ins, err := requireInstructor(ctx, db)
		if err != nil {
			return err
		}

		out, err := FetchOutline(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		if out.Course.InstructorID != ins.ID {
			return weberr.NotFound(errors.New("course not owned by instructor"))
		}

		form, err := parseMultipart(r)
		if err != nil {
			return err
		}
		defer form.close()

		if err := validate.Check(form.course); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}
		for _, sub := range form.sections {
			if err := validate.Check(sub); err != nil {
				return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
			}
		}

		plan, err := BuildPlan(out, form.sections, ins.ID, time.Now().UTC())
		if err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		up := CourseUp(form.course)
		if err := Apply(ctx, db, store, log, plan, up, form.media, form.thumbnail); err != nil {
			return err
		}

		updated, err := FetchOutline(ctx, db, id)
		if err != nil {
			return fmt.Errorf("fetching updated course: %w", err)
		}

		return web.Respond(ctx, w, updated, http.StatusOK)
	}
}

// HandleDelete removes the course, its rows by cascade and its storage
// folder best-effort.
func HandleDelete(db *sqlx.DB, store storage.Client, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		ins, err := requireInstructor(ctx, db)
		if err != nil {
			return err
		}

		c, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		if c.InstructorID != ins.ID && !claims.IsAdmin(ctx) {
			return weberr.NotFound(errors.New("course not owned by instructor"))
		}

		if err := Delete(ctx, db, id); err != nil {
			return fmt.Errorf("deleting course[%s]: %w", id, err)
		}

		if err := store.DeletePrefix(ctx, storage.CoursePrefix(id)); err != nil {
			log.WithFields(logrus.Fields{"course_id": id, "message": err}).Warn("deleting course media")
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func requireInstructor(ctx context.Context, db *sqlx.DB) (instructor.Instructor, error) {
	clm, err := claims.Get(ctx)
	if err != nil {
		return instructor.Instructor{}, weberr.NotAuthorized(errors.New("user not authenticated"))
	}

	ins, err := instructor.FetchByUserID(ctx, db, clm.UserID)
	if err != nil {
		if errors.Is(err, instructor.ErrNotFound) {
			return instructor.Instructor{}, weberr.NotFound(err)
		}
		return instructor.Instructor{}, fmt.Errorf("fetching instructor profile: %w", err)
	}

	return ins, nil
}

type courseForm struct {
	course    CourseNew
	sections  []SubmittedSection
	media     Media
	thumbnail io.Reader
	files     []multipart.File
}

// close releases every file handle opened while parsing the form.
func (f courseForm) close() {
	for _, file := range f.files {
		file.Close()
	}
}

func parseMultipart(r *http.Request) (courseForm, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return courseForm{}, weberr.BadRequest(fmt.Errorf("parsing multipart form: %w", err))
	}

	var form courseForm

	form.course.Name = r.FormValue("courseName")
	form.course.Description = r.FormValue("description")
	form.course.Objective = r.FormValue("courseObjective")
	form.course.Duration = r.FormValue("totalDuration")

	if v := r.FormValue("price"); v != "" {
		price, err := strconv.Atoi(v)
		if err != nil {
			return courseForm{}, weberr.BadRequest(fmt.Errorf("parsing price: %w", err))
		}
		form.course.Price = price
	}
	if v := r.FormValue("numberOfVideo"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return courseForm{}, weberr.BadRequest(fmt.Errorf("parsing numberOfVideo: %w", err))
		}
		form.course.NumberOfVideo = n
	}

	if raw := r.FormValue("allSection"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.sections); err != nil {
			return courseForm{}, weberr.BadRequest(fmt.Errorf("decoding allSection: %w", err))
		}
	}

	form.media = make(Media)
	if r.MultipartForm != nil {
		for field, headers := range r.MultipartForm.File {
			if field == "thumbnailUrl" {
				f, err := headers[0].Open()
				if err != nil {
					return courseForm{}, weberr.BadRequest(fmt.Errorf("opening thumbnail: %w", err))
				}
				form.thumbnail = f
				form.files = append(form.files, f)
				continue
			}

			m := videoFieldRe.FindStringSubmatch(field)
			if m == nil {
				continue
			}

			if len(headers) > 1 {
				err := fmt.Errorf("ambiguous media coordinate %q", field)
				return courseForm{}, weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
			}

			f, err := headers[0].Open()
			if err != nil {
				return courseForm{}, weberr.BadRequest(fmt.Errorf("opening video %q: %w", field, err))
			}
			form.media[Coordinate{SectionKey: m[1], LectureKey: m[2]}] = f
			form.files = append(form.files, f)
		}
	}

	return form, nil
}
