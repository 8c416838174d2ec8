package community

import (
	"net/http"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/arms"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/services/community/supabase"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

func (s *Service) handleListPosts(w http.ResponseWriter, r *http.Request) {
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := supabase.PostFilter{
		AuthorID: q.Get("author_id"),
		Tag:      q.Get("tag"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	if raw := q.Get("arm"); raw != "" {
		filter.Arm = arms.Normalize(raw)
		if !arms.Valid(filter.Arm) {
			httputil.BadRequest(w, "invalid arm")
			return
		}
	}

	posts, total, err := s.repo.ListPosts(r.Context(), filter)
	if err != nil {
		httputil.WriteDBError(w, r, err, "posts")
		return
	}
	if posts == nil {
		posts = []supabase.Post{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(posts, total, page))
}

func (s *Service) handleCreatePost(w http.ResponseWriter, r *http.Request) {
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

	post, err := s.repo.CreatePost(r.Context(), input.post(userID))
	if err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}

	if post.IsPublished {
		ev := events.New(events.CommunityPostCreated, userID, post)
		ev.Arm = post.Arm
		s.publish(r.Context(), ev)
		s.announce(r.Context(), post)
	}
	httputil.WriteJSON(w, http.StatusCreated, post)
}

func (s *Service) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.repo.GetPost(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}
	if !post.IsPublished && middleware.GetUserID(r.Context()) != post.AuthorID {
		httputil.NotFound(w, "post not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

func (s *Service) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var input UpdatePostInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if input.empty() {
		httputil.BadRequest(w, "no fields to update")
		return
	}
	update, err := input.update()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	post, err := s.repo.GetPost(r.Context(), id)
	if err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}
	if post.AuthorID != userID {
		httputil.Forbidden(w, "only the author can edit this post")
		return
	}

	now := nowUTC()
	update.UpdatedAt = &now
	updated, err := s.repo.UpdatePost(r.Context(), id, update)
	if err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	post, err := s.repo.GetPost(r.Context(), id)
	if err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}
	if post.AuthorID != userID && !middleware.HasRole(r.Context(), roles.Admin, roles.Staff) {
		httputil.Forbidden(w, "not allowed to delete this post")
		return
	}

	if err := s.repo.DeletePost(r.Context(), id); err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleLike(w http.ResponseWriter, r *http.Request) {
	s.toggleLike(w, r, true)
}

func (s *Service) handleUnlike(w http.ResponseWriter, r *http.Request) {
	s.toggleLike(w, r, false)
}

// toggleLike writes or removes the caller's like and stores the exact count.
func (s *Service) toggleLike(w http.ResponseWriter, r *http.Request, like bool) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	var err error
	if like {
		err = s.repo.LikePost(ctx, id, userID)
	} else {
		err = s.repo.UnlikePost(ctx, id, userID)
	}
	if err != nil {
		if supa.IsForeignKeyViolation(err) {
			httputil.NotFound(w, "post not found")
			return
		}
		httputil.WriteDBError(w, r, err, "like")
		return
	}

	count, err := s.repo.CountLikes(ctx, id)
	if err != nil {
		httputil.WriteDBError(w, r, err, "like")
		return
	}
	if err := s.repo.SetLikesCount(ctx, id, count); err != nil {
		httputil.WriteDBError(w, r, err, "post")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"liked":       like,
		"likes_count": count,
	})
}

func (s *Service) handleListComments(w http.ResponseWriter, r *http.Request) {
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	comments, total, err := s.repo.ListComments(r.Context(), mux.Vars(r)["id"], page.Limit, page.Offset)
	if err != nil {
		httputil.WriteDBError(w, r, err, "comments")
		return
	}
	if comments == nil {
		comments = []supabase.Comment{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(comments, total, page))
}

func (s *Service) handleAddComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input CommentInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	postID := mux.Vars(r)["id"]
	comment, err := s.repo.AddComment(r.Context(), &supabase.Comment{
		PostID:  postID,
		UserID:  userID,
		Content: input.Content,
	})
	if err != nil {
		if supa.IsForeignKeyViolation(err) {
			httputil.NotFound(w, "post not found")
			return
		}
		httputil.WriteDBError(w, r, err, "comment")
		return
	}

	s.publish(r.Context(), events.New(events.CommunityCommentAdded, userID, comment))
	httputil.WriteJSON(w, http.StatusCreated, comment)
}
