package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	supa "github.com/aethex/platform/infra/supabase"
)

func newRepoWithHandler(t *testing.T, handler http.HandlerFunc) *SupabaseRepository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := supa.New(supa.Config{ProjectURL: srv.URL, ServiceKey: "service-key"})
	require.NoError(t, err)
	return NewRepository(client)
}

func TestListCoursesQuery(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/foundation_courses", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "eq.true", q.Get("is_published"))
		assert.Equal(t, "eq.web", q.Get("category"))
		assert.Equal(t, "eq.beginner", q.Get("difficulty"))
		assert.Equal(t, "10-14", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "10-10/11")
		_, _ = w.Write([]byte(`[{"id":"c1","slug":"go-101","title":"Go 101","difficulty":"beginner","instructor_id":"u1","is_published":true}]`))
	})

	courses, total, err := repo.ListCourses(context.Background(), CourseFilter{Category: "web", Difficulty: "beginner", Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(11), total)
	require.Len(t, courses, 1)
	assert.Equal(t, "go-101", courses[0].Slug)
}

func TestListLessonsOrdered(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "order_index.asc", r.URL.Query().Get("order"))
		assert.Equal(t, "eq.c1", r.URL.Query().Get("course_id"))
		_, _ = w.Write([]byte(`[{"id":"l1","course_id":"c1","title":"a","order_index":0}]`))
	})
	lessons, err := repo.ListLessons(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestUpsertEnrollmentFallsBackToExistingRow(t *testing.T) {
	calls := 0
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "user_id,course_id", r.URL.Query().Get("on_conflict"))
			assert.Contains(t, r.Header.Get("Prefer"), "resolution=ignore-duplicates")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[]`))
		case http.MethodGet:
			assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`{"id":"e1","user_id":"u1","course_id":"c1","status":"enrolled","progress_percent":40}`))
		}
	})

	e, err := repo.UpsertEnrollment(context.Background(), &Enrollment{UserID: "u1", CourseID: "c1", Status: "enrolled"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 40, e.ProgressPercent)
}

func TestUpsertLessonProgressMerges(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/foundation_lesson_progress", r.URL.Path)
		assert.Equal(t, "user_id,lesson_id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"user_id":"u1","lesson_id":"l1","course_id":"c1","completed":true}`, string(body))
		w.WriteHeader(http.StatusCreated)
	})
	require.NoError(t, repo.UpsertLessonProgress(context.Background(), &LessonProgress{UserID: "u1", LessonID: "l1", CourseID: "c1", Completed: true}))
}

func TestCreateCourseDuplicateSlug(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint \"foundation_courses_slug_key\""}`))
	})
	_, err := repo.CreateCourse(context.Background(), &Course{Slug: "go-101", Title: "Go 101"})
	require.Error(t, err)
	assert.True(t, supa.IsUniqueViolation(err))
}
