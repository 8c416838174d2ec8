package ethos

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/roles"
	"github.com/aethex/platform/services/ethos/supabase"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

func (s *Service) handleListTracks(w http.ResponseWriter, r *http.Request) {
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := supabase.TrackFilter{
		Genre:       strings.ToLower(strings.TrimSpace(q.Get("genre"))),
		LicenseType: strings.ToLower(strings.TrimSpace(q.Get("license_type"))),
		ArtistID:    q.Get("artist_id"),
		Limit:       page.Limit,
		Offset:      page.Offset,
	}
	if filter.LicenseType != "" && !validLicense(filter.LicenseType) {
		httputil.BadRequest(w, "invalid license_type")
		return
	}

	tracks, total, err := s.repo.ListTracks(r.Context(), filter)
	if err != nil {
		httputil.WriteDBError(w, r, err, "tracks")
		return
	}
	if tracks == nil {
		tracks = []supabase.Track{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(tracks, total, page))
}

func (s *Service) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	track, err := s.repo.GetTrack(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "track")
		return
	}
	if !track.IsPublished && middleware.GetUserID(r.Context()) != track.ArtistID {
		httputil.NotFound(w, "track not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, track)
}

func (s *Service) handleCreateTrack(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input CreateTrackInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	track, err := s.repo.CreateTrack(r.Context(), input.track(userID))
	if err != nil {
		httputil.WriteDBError(w, r, err, "track")
		return
	}
	if track.IsPublished {
		s.publish(r.Context(), events.New(events.EthosTrackPublished, userID, track))
	}
	httputil.WriteJSON(w, http.StatusCreated, track)
}

// loadOwnTrack fetches the track in the route and checks the caller owns it.
// Admin and staff may act on any track.
func (s *Service) loadOwnTrack(w http.ResponseWriter, r *http.Request) (*supabase.Track, bool) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return nil, false
	}
	track, err := s.repo.GetTrack(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "track")
		return nil, false
	}
	if track.ArtistID != userID && !middleware.HasRole(r.Context(), roles.Admin, roles.Staff) {
		httputil.Forbidden(w, "only the artist can modify this track")
		return nil, false
	}
	return track, true
}

func (s *Service) handleUpdateTrack(w http.ResponseWriter, r *http.Request) {
	track, ok := s.loadOwnTrack(w, r)
	if !ok {
		return
	}
	var input UpdateTrackInput
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
	now := s.now()
	update.UpdatedAt = &now

	updated, err := s.repo.UpdateTrack(r.Context(), track.ID, update)
	if err != nil {
		httputil.WriteDBError(w, r, err, "track")
		return
	}
	if !track.IsPublished && updated.IsPublished {
		s.publish(r.Context(), events.New(events.EthosTrackPublished, updated.ArtistID, updated))
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	track, ok := s.loadOwnTrack(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteTrack(r.Context(), track.ID); err != nil {
		httputil.WriteDBError(w, r, err, "track")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	Token     string `json:"token"`
	Path      string `json:"path"`
	FileURL   string `json:"file_url"`
}

// handleUploadURL issues a signed upload URL under the caller's folder in the
// tracks bucket. The returned file_url is what the client later sends as the
// track's file_url.
func (s *Service) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if s.storage == nil {
		httputil.ServiceUnavailable(w, "storage not configured")
		return
	}
	var input UploadURLInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	ext, err := input.extension()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	objectPath := userID + "/" + uuid.NewString() + ext
	signed, err := s.storage.CreateSignedUploadURL(r.Context(), TracksBucket, objectPath)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("create signed upload url failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "STORAGE_ERROR", "could not create upload URL", nil)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, uploadURLResponse{
		UploadURL: signed.URL,
		Token:     signed.Token,
		Path:      objectPath,
		FileURL:   s.storage.GetPublicURL(TracksBucket, objectPath),
	})
}
