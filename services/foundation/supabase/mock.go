package supabase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	supa "github.com/aethex/platform/infra/supabase"
)

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository with unique course slugs.
type MockRepository struct {
	mu          sync.Mutex
	courses     map[string]*Course
	lessons     map[string]*Lesson
	enrollments map[string]*Enrollment
	progress    map[string]*LessonProgress
	seq         int

	ErrorOnNextCall error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		courses:     make(map[string]*Course),
		lessons:     make(map[string]*Lesson),
		enrollments: make(map[string]*Enrollment),
		progress:    make(map[string]*LessonProgress),
	}
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func (m *MockRepository) stamp() *time.Time {
	m.seq++
	t := time.Now().UTC().Add(time.Duration(m.seq) * time.Millisecond)
	return &t
}

func (m *MockRepository) ListCourses(_ context.Context, f CourseFilter) ([]Course, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, 0, err
	}
	var out []Course
	for _, c := range m.courses {
		if !c.IsPublished || (f.Category != "" && c.Category != f.Category) || (f.Difficulty != "" && c.Difficulty != f.Difficulty) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(*out[j].CreatedAt) })
	total := int64(len(out))
	if f.Offset >= len(out) {
		return []Course{}, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *MockRepository) GetCourseBySlug(_ context.Context, slug string) (*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, c := range m.courses {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, supa.ErrNotFound
}

func (m *MockRepository) GetCourse(_ context.Context, id string) (*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockRepository) CreateCourse(_ context.Context, c *Course) (*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, existing := range m.courses {
		if existing.Slug == c.Slug {
			return nil, supa.NewError(supa.CodeUniqueViolation, "duplicate key value violates unique constraint \"foundation_courses_slug_key\"", 409)
		}
	}
	cp := *c
	cp.ID = uuid.NewString()
	cp.CreatedAt = m.stamp()
	cp.UpdatedAt = cp.CreatedAt
	m.courses[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) ListLessons(_ context.Context, courseID string) ([]Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lesson
	for _, l := range m.lessons {
		if l.CourseID == courseID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *MockRepository) GetLesson(_ context.Context, id string) (*Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	l, ok := m.lessons[id]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MockRepository) CreateLesson(_ context.Context, l *Lesson) (*Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[l.CourseID]; !ok {
		return nil, supa.NewError(supa.CodeForeignKeyViolation, "course does not exist", 409)
	}
	cp := *l
	cp.ID = uuid.NewString()
	cp.CreatedAt = m.stamp()
	m.lessons[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) CountLessons(_ context.Context, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.lessons {
		if l.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

func enrollmentKey(userID, courseID string) string { return userID + "/" + courseID }

func (m *MockRepository) UpsertEnrollment(_ context.Context, e *Enrollment) (*Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	if _, ok := m.courses[e.CourseID]; !ok {
		return nil, supa.NewError(supa.CodeForeignKeyViolation, "course does not exist", 409)
	}
	key := enrollmentKey(e.UserID, e.CourseID)
	if existing, ok := m.enrollments[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *e
	cp.ID = uuid.NewString()
	cp.EnrolledAt = m.stamp()
	m.enrollments[key] = &cp
	out := cp
	return &out, nil
}

func (m *MockRepository) GetEnrollment(_ context.Context, userID, courseID string) (*Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return nil, supa.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockRepository) ListEnrollments(_ context.Context, userID string, limit, offset int) ([]Enrollment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Enrollment
	for _, e := range m.enrollments {
		if e.UserID != userID {
			continue
		}
		cp := *e
		if c, ok := m.courses[e.CourseID]; ok {
			course := *c
			cp.Course = &course
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(*out[j].EnrolledAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return []Enrollment{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *MockRepository) UpdateEnrollmentProgress(_ context.Context, userID, courseID string, percent int, status string, completedAt *time.Time) (*Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return nil, supa.ErrNotFound
	}
	e.ProgressPercent = percent
	e.Status = status
	if completedAt != nil {
		e.CompletedAt = completedAt
	}
	cp := *e
	return &cp, nil
}

func (m *MockRepository) UpsertLessonProgress(_ context.Context, p *LessonProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	cp := *p
	m.progress[enrollmentKey(p.UserID, p.LessonID)] = &cp
	return nil
}

func (m *MockRepository) CountCompletedLessons(_ context.Context, userID, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.progress {
		if p.UserID == userID && p.CourseID == courseID && p.Completed {
			n++
		}
	}
	return n, nil
}
