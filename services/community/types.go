package community

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aethex/platform/internal/arms"
	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/services/community/supabase"
)

const (
	maxTitleLen   = 200
	maxContentLen = 20000
	maxCommentLen = 2000
	maxTags       = 10
	maxTagLen     = 32
)

// CreatePostInput is the body of POST /api/community/posts.
type CreatePostInput struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Arm         string   `json:"arm"`
	Tags        []string `json:"tags"`
	ImageURL    string   `json:"image_url"`
	IsPublished *bool    `json:"is_published"`
}

func (in *CreatePostInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateContent(in.Content); err != nil {
		return err
	}
	arm, err := normalizeArm(in.Arm)
	if err != nil {
		return err
	}
	in.Arm = arm
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return err
	}
	in.Tags = tags
	return validateImageURL(in.ImageURL)
}

func (in CreatePostInput) post(authorID string) *supabase.Post {
	published := true
	if in.IsPublished != nil {
		published = *in.IsPublished
	}
	return &supabase.Post{
		AuthorID:    authorID,
		Title:       in.Title,
		Content:     in.Content,
		Arm:         in.Arm,
		Tags:        in.Tags,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		IsPublished: published,
	}
}

// UpdatePostInput is the body of PATCH /api/community/posts/{id}.
type UpdatePostInput struct {
	Title       *string   `json:"title"`
	Content     *string   `json:"content"`
	Arm         *string   `json:"arm"`
	Tags        *[]string `json:"tags"`
	ImageURL    *string   `json:"image_url"`
	IsPublished *bool     `json:"is_published"`
}

func (in UpdatePostInput) update() (supabase.PostUpdate, error) {
	var u supabase.PostUpdate
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := validateTitle(title); err != nil {
			return u, err
		}
		u.Title = &title
	}
	if in.Content != nil {
		content := strings.TrimSpace(*in.Content)
		if err := validateContent(content); err != nil {
			return u, err
		}
		u.Content = &content
	}
	if in.Arm != nil {
		arm, err := normalizeArm(*in.Arm)
		if err != nil {
			return u, err
		}
		u.Arm = &arm
	}
	if in.Tags != nil {
		tags, err := normalizeTags(*in.Tags)
		if err != nil {
			return u, err
		}
		u.Tags = &tags
	}
	if in.ImageURL != nil {
		img := strings.TrimSpace(*in.ImageURL)
		if err := validateImageURL(img); err != nil {
			return u, err
		}
		u.ImageURL = &img
	}
	u.IsPublished = in.IsPublished
	return u, nil
}

func (in UpdatePostInput) empty() bool {
	return in.Title == nil && in.Content == nil && in.Arm == nil && in.Tags == nil && in.ImageURL == nil && in.IsPublished == nil
}

// CommentInput is the body of POST /api/community/posts/{id}/comments.
type CommentInput struct {
	Content string `json:"content"`
}

func (in *CommentInput) validate() error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return svcerrors.Validation("content", "content is required")
	}
	if len(in.Content) > maxCommentLen {
		return svcerrors.Validation("content", fmt.Sprintf("content must be at most %d characters", maxCommentLen))
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return svcerrors.Validation("title", "title is required")
	}
	if len(title) > maxTitleLen {
		return svcerrors.Validation("title", fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	return nil
}

func validateContent(content string) error {
	if content == "" {
		return svcerrors.Validation("content", "content is required")
	}
	if len(content) > maxContentLen {
		return svcerrors.Validation("content", fmt.Sprintf("content must be at most %d characters", maxContentLen))
	}
	return nil
}

func normalizeArm(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	arm := arms.Normalize(raw)
	if !arms.Valid(arm) {
		return "", svcerrors.Validation("arm", fmt.Sprintf("invalid arm %q", raw))
	}
	return arm, nil
}

func normalizeTags(raw []string) ([]string, error) {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if len(t) > maxTagLen {
			return nil, svcerrors.Validation("tags", fmt.Sprintf("tags must be at most %d characters", maxTagLen))
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) > maxTags {
		return nil, svcerrors.Validation("tags", fmt.Sprintf("at most %d tags are allowed", maxTags))
	}
	return tags, nil
}

func validateImageURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return svcerrors.Validation("image_url", "image_url must be an http(s) URL")
	}
	return nil
}
