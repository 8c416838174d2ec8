package blog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultLimit, 1, maxLimit)
	if !ok {
		return
	}
	page, ok := intParam(w, r, "page", 1, 1, 10000)
	if !ok {
		return
	}

	list, err := s.listPosts(r.Context(), limit, page)
	if err != nil {
		s.writeGhostError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	post, err := s.getPost(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.writeGhostError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

// CreatePostInput is the body of POST /api/blog.
type CreatePostInput struct {
	Title        string   `json:"title"`
	HTML         string   `json:"html"`
	Excerpt      string   `json:"excerpt"`
	FeatureImage string   `json:"feature_image"`
	Tags         []string `json:"tags"`
	Status       string   `json:"status"`
}

func (in *CreatePostInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return svcerrors.Validation("title", "title is required")
	}
	if len(in.Title) > 255 {
		return svcerrors.Validation("title", "title is too long")
	}
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	switch in.Status {
	case "":
		in.Status = "draft"
	case "draft", "published":
	default:
		return svcerrors.Validation("status", "status must be draft or published")
	}
	return nil
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input CreatePostInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	post, err := s.ghost.CreatePost(r.Context(), NewPost{
		Title:        input.Title,
		HTML:         input.HTML,
		Excerpt:      input.Excerpt,
		FeatureImage: input.FeatureImage,
		Tags:         input.Tags,
		Status:       input.Status,
	})
	if err != nil {
		s.writeGhostError(w, r, err)
		return
	}
	s.Invalidate(r.Context())

	if input.Status == "published" {
		s.metrics.RecordDomainEvent(events.BlogPostPublished)
		if err := s.events.Publish(r.Context(), events.New(events.BlogPostPublished, userID, post)); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("publish event failed")
		}
	}
	httputil.WriteJSON(w, http.StatusCreated, post)
}

func (s *Service) writeGhostError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrPostNotFound) {
		httputil.NotFound(w, "post not found")
		return
	}
	s.logger.WithContext(r.Context()).WithError(err).Warn("ghost request failed")
	httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "BLOG_UNAVAILABLE", "blog provider unavailable", nil)
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		httputil.BadRequest(w, "invalid "+name)
		return 0, false
	}
	return v, true
}
