package foundation

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/services/foundation/supabase"
)

const (
	maxCourseTitleLen = 200
	maxSlugLen        = 80
	maxLessonTitleLen = 200
	maxLessonBodyLen  = 100000
)

// Enrollment statuses.
const (
	StatusEnrolled  = "enrolled"
	StatusCompleted = "completed"
)

var difficulties = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}

// CreateCourseInput is the body of POST /api/foundation/courses.
type CreateCourseInput struct {
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	Difficulty     string `json:"difficulty"`
	CoverImageURL  string `json:"cover_image_url"`
	EstimatedHours int    `json:"estimated_hours"`
	IsPublished    *bool  `json:"is_published"`
}

func (in *CreateCourseInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return svcerrors.Validation("title", "title is required")
	}
	if len(in.Title) > maxCourseTitleLen {
		return svcerrors.Validation("title", "title is too long")
	}
	if in.Slug != "" {
		in.Slug = Slugify(in.Slug)
	} else {
		in.Slug = Slugify(in.Title)
	}
	if in.Slug == "" {
		return svcerrors.Validation("slug", "title must contain letters or digits")
	}
	in.Difficulty = strings.ToLower(strings.TrimSpace(in.Difficulty))
	if in.Difficulty == "" {
		in.Difficulty = "beginner"
	}
	if !difficulties[in.Difficulty] {
		return svcerrors.Validation("difficulty", "difficulty must be beginner, intermediate or advanced")
	}
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if in.EstimatedHours < 0 {
		return svcerrors.Validation("estimated_hours", "estimated_hours must not be negative")
	}
	if in.CoverImageURL != "" && !validHTTPURL(in.CoverImageURL) {
		return svcerrors.Validation("cover_image_url", "cover_image_url must be an http(s) URL")
	}
	return nil
}

func (in CreateCourseInput) course(instructorID string) *supabase.Course {
	published := true
	if in.IsPublished != nil {
		published = *in.IsPublished
	}
	return &supabase.Course{
		Slug:           in.Slug,
		Title:          in.Title,
		Description:    strings.TrimSpace(in.Description),
		Category:       in.Category,
		Difficulty:     in.Difficulty,
		InstructorID:   instructorID,
		CoverImageURL:  in.CoverImageURL,
		EstimatedHours: in.EstimatedHours,
		IsPublished:    published,
	}
}

// CreateLessonInput is the body of POST /api/foundation/courses/{id}/lessons.
type CreateLessonInput struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	VideoURL        string `json:"video_url"`
	OrderIndex      *int   `json:"order_index"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (in *CreateLessonInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return svcerrors.Validation("title", "title is required")
	}
	if len(in.Title) > maxLessonTitleLen {
		return svcerrors.Validation("title", "title is too long")
	}
	if len(in.Content) > maxLessonBodyLen {
		return svcerrors.Validation("content", "content is too long")
	}
	if in.VideoURL != "" && !validHTTPURL(in.VideoURL) {
		return svcerrors.Validation("video_url", "video_url must be an http(s) URL")
	}
	if in.OrderIndex != nil && *in.OrderIndex < 0 {
		return svcerrors.Validation("order_index", "order_index must not be negative")
	}
	if in.DurationMinutes < 0 {
		return svcerrors.Validation("duration_minutes", "duration_minutes must not be negative")
	}
	return nil
}

// Slugify lower-cases s and joins its alphanumeric runs with '-'.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func withSlugSuffix(slug string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	if limit := maxSlugLen - len(suffix) - 1; len(slug) > limit {
		slug = strings.TrimRight(slug[:limit], "-")
	}
	return slug + "-" + suffix
}

// progressPercent returns completed*100/total, capped at 100.
func progressPercent(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(completed * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
