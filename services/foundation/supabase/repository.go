// Package supabase provides data access for Foundation courses.
package supabase

import (
	"context"
	"fmt"
	"time"

	supa "github.com/aethex/platform/infra/supabase"
)

const (
	coursesTable     = "foundation_courses"
	lessonsTable     = "foundation_lessons"
	enrollmentsTable = "foundation_enrollments"
	progressTable    = "foundation_lesson_progress"
)

// =============================================================================
// Data Models
// =============================================================================

// Course is a row of foundation_courses.
type Course struct {
	ID             string     `json:"id,omitempty"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	Difficulty     string     `json:"difficulty"`
	InstructorID   string     `json:"instructor_id"`
	CoverImageURL  string     `json:"cover_image_url,omitempty"`
	EstimatedHours int        `json:"estimated_hours,omitempty"`
	IsPublished    bool       `json:"is_published"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Lessons        []Lesson   `json:"lessons,omitempty"`
}

// Lesson is a row of foundation_lessons.
type Lesson struct {
	ID              string     `json:"id,omitempty"`
	CourseID        string     `json:"course_id"`
	Title           string     `json:"title"`
	Content         string     `json:"content,omitempty"`
	VideoURL        string     `json:"video_url,omitempty"`
	OrderIndex      int        `json:"order_index"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// Enrollment is a row of foundation_enrollments.
type Enrollment struct {
	ID              string     `json:"id,omitempty"`
	UserID          string     `json:"user_id"`
	CourseID        string     `json:"course_id"`
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	EnrolledAt      *time.Time `json:"enrolled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Course          *Course    `json:"course,omitempty"`
}

// LessonProgress is a row of foundation_lesson_progress.
type LessonProgress struct {
	UserID      string     `json:"user_id"`
	LessonID    string     `json:"lesson_id"`
	CourseID    string     `json:"course_id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CourseFilter narrows a course listing.
type CourseFilter struct {
	Category   string
	Difficulty string
	Limit      int
	Offset     int
}

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines Foundation data operations.
type Repository interface {
	ListCourses(ctx context.Context, f CourseFilter) ([]Course, int64, error)
	GetCourseBySlug(ctx context.Context, slug string) (*Course, error)
	GetCourse(ctx context.Context, id string) (*Course, error)
	CreateCourse(ctx context.Context, c *Course) (*Course, error)

	ListLessons(ctx context.Context, courseID string) ([]Lesson, error)
	GetLesson(ctx context.Context, id string) (*Lesson, error)
	CreateLesson(ctx context.Context, l *Lesson) (*Lesson, error)
	CountLessons(ctx context.Context, courseID string) (int64, error)

	UpsertEnrollment(ctx context.Context, e *Enrollment) (*Enrollment, error)
	GetEnrollment(ctx context.Context, userID, courseID string) (*Enrollment, error)
	ListEnrollments(ctx context.Context, userID string, limit, offset int) ([]Enrollment, int64, error)
	UpdateEnrollmentProgress(ctx context.Context, userID, courseID string, percent int, status string, completedAt *time.Time) (*Enrollment, error)

	UpsertLessonProgress(ctx context.Context, p *LessonProgress) error
	CountCompletedLessons(ctx context.Context, userID, courseID string) (int64, error)
}

// =============================================================================
// Supabase Repository Implementation
// =============================================================================

// SupabaseRepository implements Repository using PostgREST.
type SupabaseRepository struct {
	db *supa.Client
}

// NewRepository creates a new Supabase repository.
func NewRepository(db *supa.Client) *SupabaseRepository {
	return &SupabaseRepository{db: db}
}

func (r *SupabaseRepository) ListCourses(ctx context.Context, f CourseFilter) ([]Course, int64, error) {
	q := r.db.From(coursesTable).Select("*").Eq("is_published", true)
	if f.Category != "" {
		q = q.Eq("category", f.Category)
	}
	if f.Difficulty != "" {
		q = q.Eq("difficulty", f.Difficulty)
	}
	var rows []Course
	total, err := q.Order("created_at", supa.OrderDesc).Range(f.Offset, f.Offset+f.Limit-1).ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	if total < 0 {
		total = int64(len(rows))
	}
	return rows, total, nil
}

func (r *SupabaseRepository) GetCourseBySlug(ctx context.Context, slug string) (*Course, error) {
	var c Course
	if err := r.db.From(coursesTable).Select("*").Eq("slug", slug).Single().ExecuteInto(ctx, &c); err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

func (r *SupabaseRepository) GetCourse(ctx context.Context, id string) (*Course, error) {
	var c Course
	if err := r.db.From(coursesTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &c); err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

func (r *SupabaseRepository) CreateCourse(ctx context.Context, c *Course) (*Course, error) {
	var rows []Course
	if err := r.db.From(coursesTable).Insert(c).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create course: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) ListLessons(ctx context.Context, courseID string) ([]Lesson, error) {
	var rows []Lesson
	if err := r.db.From(lessonsTable).Select("*").Eq("course_id", courseID).Order("order_index", supa.OrderAsc).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return rows, nil
}

func (r *SupabaseRepository) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	var l Lesson
	if err := r.db.From(lessonsTable).Select("*").Eq("id", id).Single().ExecuteInto(ctx, &l); err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return &l, nil
}

func (r *SupabaseRepository) CreateLesson(ctx context.Context, l *Lesson) (*Lesson, error) {
	var rows []Lesson
	if err := r.db.From(lessonsTable).Insert(l).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create lesson: empty response")
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) CountLessons(ctx context.Context, courseID string) (int64, error) {
	n, err := r.db.From(lessonsTable).Select("id").Eq("course_id", courseID).Limit(1).ExecuteWithCount(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("count lessons: %w", err)
	}
	return max(n, 0), nil
}

func (r *SupabaseRepository) UpsertEnrollment(ctx context.Context, e *Enrollment) (*Enrollment, error) {
	var rows []Enrollment
	if err := r.db.From(enrollmentsTable).UpsertIgnore(e, "user_id,course_id").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	if len(rows) > 0 {
		return &rows[0], nil
	}
	// The row already existed; ignore-duplicates returns nothing.
	return r.GetEnrollment(ctx, e.UserID, e.CourseID)
}

func (r *SupabaseRepository) GetEnrollment(ctx context.Context, userID, courseID string) (*Enrollment, error) {
	var e Enrollment
	err := r.db.From(enrollmentsTable).Select("*").Eq("user_id", userID).Eq("course_id", courseID).Single().ExecuteInto(ctx, &e)
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &e, nil
}

func (r *SupabaseRepository) ListEnrollments(ctx context.Context, userID string, limit, offset int) ([]Enrollment, int64, error) {
	var rows []Enrollment
	total, err := r.db.From(enrollmentsTable).Select("*,course:foundation_courses(*)").Eq("user_id", userID).
		Order("enrolled_at", supa.OrderDesc).
		Range(offset, offset+limit-1).
		ExecuteWithCount(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	if total < 0 {
		total = int64(len(rows))
	}
	return rows, total, nil
}

func (r *SupabaseRepository) UpdateEnrollmentProgress(ctx context.Context, userID, courseID string, percent int, status string, completedAt *time.Time) (*Enrollment, error) {
	body := map[string]interface{}{"progress_percent": percent, "status": status}
	if completedAt != nil {
		body["completed_at"] = completedAt
	}
	var rows []Enrollment
	err := r.db.From(enrollmentsTable).Update(body).Eq("user_id", userID).Eq("course_id", courseID).ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("update enrollment: %w", err)
	}
	if len(rows) == 0 {
		return nil, supa.ErrNotFound
	}
	return &rows[0], nil
}

func (r *SupabaseRepository) UpsertLessonProgress(ctx context.Context, p *LessonProgress) error {
	if _, err := r.db.From(progressTable).Upsert(p, "user_id,lesson_id").Execute(ctx); err != nil {
		return fmt.Errorf("upsert lesson progress: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) CountCompletedLessons(ctx context.Context, userID, courseID string) (int64, error) {
	n, err := r.db.From(progressTable).Select("lesson_id").
		Eq("user_id", userID).
		Eq("course_id", courseID).
		Eq("completed", true).
		Limit(1).
		ExecuteWithCount(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("count completed lessons: %w", err)
	}
	return max(n, 0), nil
}
