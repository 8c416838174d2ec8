package foundation

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/arms"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/services/foundation/supabase"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

func (s *Service) handleListCourses(w http.ResponseWriter, r *http.Request) {
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := supabase.CourseFilter{
		Category:   strings.ToLower(strings.TrimSpace(q.Get("category"))),
		Difficulty: strings.ToLower(strings.TrimSpace(q.Get("difficulty"))),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	if filter.Difficulty != "" && !difficulties[filter.Difficulty] {
		httputil.BadRequest(w, "invalid difficulty")
		return
	}

	courses, total, err := s.repo.ListCourses(r.Context(), filter)
	if err != nil {
		httputil.WriteDBError(w, r, err, "courses")
		return
	}
	if courses == nil {
		courses = []supabase.Course{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(courses, total, page))
}

// handleGetCourse returns a course with its lessons in order. Unpublished
// courses are only visible to those who can manage them.
func (s *Service) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.repo.GetCourseBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "course")
		return
	}
	if !course.IsPublished && !canManage(r.Context(), course) {
		httputil.NotFound(w, "course not found")
		return
	}

	lessons, err := s.repo.ListLessons(r.Context(), course.ID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "lessons")
		return
	}
	if lessons == nil {
		lessons = []supabase.Lesson{}
	}
	course.Lessons = lessons
	httputil.WriteJSON(w, http.StatusOK, course)
}

func (s *Service) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input CreateCourseInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	explicitSlug := input.Slug != ""
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	c := input.course(userID)
	course, err := s.repo.CreateCourse(r.Context(), c)
	if err != nil && supa.IsUniqueViolation(err) && !explicitSlug {
		c.Slug = withSlugSuffix(c.Slug)
		course, err = s.repo.CreateCourse(r.Context(), c)
	}
	if err != nil {
		if supa.IsUniqueViolation(err) {
			httputil.Conflict(w, "course slug already taken")
			return
		}
		httputil.WriteDBError(w, r, err, "course")
		return
	}

	s.metrics.RecordDomainEvent("foundation.course.created")
	s.logger.WithContext(r.Context()).WithField("slug", course.Slug).Info("course created")
	httputil.WriteJSON(w, http.StatusCreated, course)
}

func (s *Service) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	course, err := s.repo.GetCourse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "course")
		return
	}
	if !canManage(r.Context(), course) {
		httputil.Forbidden(w, "only the course instructor can add lessons")
		return
	}

	var input CreateLessonInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	order := 0
	if input.OrderIndex != nil {
		order = *input.OrderIndex
	} else {
		n, err := s.repo.CountLessons(r.Context(), course.ID)
		if err != nil {
			httputil.WriteDBError(w, r, err, "lessons")
			return
		}
		order = int(n)
	}

	lesson, err := s.repo.CreateLesson(r.Context(), &supabase.Lesson{
		CourseID:        course.ID,
		Title:           input.Title,
		Content:         input.Content,
		VideoURL:        input.VideoURL,
		OrderIndex:      order,
		DurationMinutes: input.DurationMinutes,
	})
	if err != nil {
		httputil.WriteDBError(w, r, err, "lesson")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, lesson)
}

// handleEnroll is idempotent: enrolling twice returns the existing row.
func (s *Service) handleEnroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	course, err := s.repo.GetCourse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "course")
		return
	}
	if !course.IsPublished {
		httputil.NotFound(w, "course not found")
		return
	}

	_, err = s.repo.GetEnrollment(r.Context(), userID, course.ID)
	existed := err == nil
	if err != nil && !supa.IsNotFound(err) {
		httputil.WriteDBError(w, r, err, "enrollment")
		return
	}

	enrollment, err := s.repo.UpsertEnrollment(r.Context(), &supabase.Enrollment{
		UserID:   userID,
		CourseID: course.ID,
		Status:   StatusEnrolled,
	})
	if err != nil {
		if supa.IsForeignKeyViolation(err) {
			httputil.NotFound(w, "course not found")
			return
		}
		httputil.WriteDBError(w, r, err, "enrollment")
		return
	}

	if existed {
		httputil.WriteJSON(w, http.StatusOK, enrollment)
		return
	}
	ev := events.New(events.FoundationEnrolled, userID, enrollment)
	ev.Arm = arms.Foundation
	s.publish(r.Context(), ev)
	httputil.WriteJSON(w, http.StatusCreated, enrollment)
}

func (s *Service) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	rows, total, err := s.repo.ListEnrollments(r.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		httputil.WriteDBError(w, r, err, "enrollments")
		return
	}
	if rows == nil {
		rows = []supabase.Enrollment{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(rows, total, page))
}

// handleCompleteLesson marks a lesson done and recomputes course progress.
// The caller must be enrolled in the lesson's course.
func (s *Service) handleCompleteLesson(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	lesson, err := s.repo.GetLesson(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "lesson")
		return
	}
	enrollment, err := s.repo.GetEnrollment(r.Context(), userID, lesson.CourseID)
	if err != nil {
		if supa.IsNotFound(err) {
			httputil.Forbidden(w, "not enrolled in this course")
			return
		}
		httputil.WriteDBError(w, r, err, "enrollment")
		return
	}

	now := s.now()
	if err := s.repo.UpsertLessonProgress(r.Context(), &supabase.LessonProgress{
		UserID:      userID,
		LessonID:    lesson.ID,
		CourseID:    lesson.CourseID,
		Completed:   true,
		CompletedAt: &now,
	}); err != nil {
		httputil.WriteDBError(w, r, err, "lesson progress")
		return
	}

	total, err := s.repo.CountLessons(r.Context(), lesson.CourseID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "lessons")
		return
	}
	done, err := s.repo.CountCompletedLessons(r.Context(), userID, lesson.CourseID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "lesson progress")
		return
	}

	percent := progressPercent(done, total)
	status := StatusEnrolled
	var completedAt *time.Time
	if percent >= 100 {
		status = StatusCompleted
		if enrollment.CompletedAt != nil {
			completedAt = enrollment.CompletedAt
		} else {
			completedAt = &now
		}
	}
	updated, err := s.repo.UpdateEnrollmentProgress(r.Context(), userID, lesson.CourseID, percent, status, completedAt)
	if err != nil {
		httputil.WriteDBError(w, r, err, "enrollment")
		return
	}

	if status == StatusCompleted && enrollment.Status != StatusCompleted {
		ev := events.New(events.FoundationCompleted, userID, updated)
		ev.Arm = arms.Foundation
		s.publish(r.Context(), ev)
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}
