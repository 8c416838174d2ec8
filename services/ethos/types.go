package ethos

import (
	"net/url"
	"strings"

	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/services/ethos/supabase"
)

// License types.
const (
	LicenseEcosystem        = "ecosystem"
	LicenseCommercialSample = "commercial_sample"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
	maxGenreLen       = 64
)

// audioTypes maps accepted upload content types to file extensions.
var audioTypes = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/ogg":    ".ogg",
	"audio/aac":    ".aac",
	"audio/mp4":    ".m4a",
}

func validLicense(l string) bool {
	return l == LicenseEcosystem || l == LicenseCommercialSample
}

// CreateTrackInput is the body of POST /api/ethos/tracks.
type CreateTrackInput struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Genre           string `json:"genre"`
	FileURL         string `json:"file_url"`
	CoverArtURL     string `json:"cover_art_url"`
	DurationSeconds int    `json:"duration_seconds"`
	BPM             int    `json:"bpm"`
	LicenseType     string `json:"license_type"`
	IsPublished     *bool  `json:"is_published"`
}

func (in *CreateTrackInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return svcerrors.Validation("title", "title is required")
	}
	if len(in.Title) > maxTitleLen {
		return svcerrors.Validation("title", "title is too long")
	}
	if len(in.Description) > maxDescriptionLen {
		return svcerrors.Validation("description", "description is too long")
	}
	in.FileURL = strings.TrimSpace(in.FileURL)
	if in.FileURL == "" {
		return svcerrors.Validation("file_url", "file_url is required")
	}
	if !validHTTPURL(in.FileURL) {
		return svcerrors.Validation("file_url", "file_url must be an http(s) URL")
	}
	if in.CoverArtURL != "" && !validHTTPURL(in.CoverArtURL) {
		return svcerrors.Validation("cover_art_url", "cover_art_url must be an http(s) URL")
	}
	genre, err := normalizeGenre(in.Genre)
	if err != nil {
		return err
	}
	in.Genre = genre
	in.LicenseType = strings.ToLower(strings.TrimSpace(in.LicenseType))
	if in.LicenseType == "" {
		in.LicenseType = LicenseEcosystem
	}
	if !validLicense(in.LicenseType) {
		return svcerrors.Validation("license_type", "license_type must be ecosystem or commercial_sample")
	}
	if in.DurationSeconds < 0 || in.BPM < 0 {
		return svcerrors.Validation("duration_seconds", "duration and bpm must not be negative")
	}
	return nil
}

func (in CreateTrackInput) track(artistID string) *supabase.Track {
	published := true
	if in.IsPublished != nil {
		published = *in.IsPublished
	}
	return &supabase.Track{
		ArtistID:        artistID,
		Title:           in.Title,
		Description:     strings.TrimSpace(in.Description),
		Genre:           in.Genre,
		FileURL:         in.FileURL,
		CoverArtURL:     in.CoverArtURL,
		DurationSeconds: in.DurationSeconds,
		BPM:             in.BPM,
		LicenseType:     in.LicenseType,
		IsPublished:     published,
	}
}

// UpdateTrackInput is the body of PATCH /api/ethos/tracks/{id}. The audio
// file itself is immutable.
type UpdateTrackInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Genre           *string `json:"genre"`
	CoverArtURL     *string `json:"cover_art_url"`
	DurationSeconds *int    `json:"duration_seconds"`
	BPM             *int    `json:"bpm"`
	LicenseType     *string `json:"license_type"`
	IsPublished     *bool   `json:"is_published"`
}

func (in UpdateTrackInput) empty() bool {
	return in.Title == nil && in.Description == nil && in.Genre == nil && in.CoverArtURL == nil &&
		in.DurationSeconds == nil && in.BPM == nil && in.LicenseType == nil && in.IsPublished == nil
}

func (in UpdateTrackInput) update() (supabase.TrackUpdate, error) {
	u := supabase.TrackUpdate{
		Description:     in.Description,
		DurationSeconds: in.DurationSeconds,
		BPM:             in.BPM,
		IsPublished:     in.IsPublished,
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" || len(title) > maxTitleLen {
			return u, svcerrors.Validation("title", "title must be 1-200 characters")
		}
		u.Title = &title
	}
	if in.Description != nil && len(*in.Description) > maxDescriptionLen {
		return u, svcerrors.Validation("description", "description is too long")
	}
	if in.Genre != nil {
		genre, err := normalizeGenre(*in.Genre)
		if err != nil {
			return u, err
		}
		u.Genre = &genre
	}
	if in.CoverArtURL != nil {
		if *in.CoverArtURL != "" && !validHTTPURL(*in.CoverArtURL) {
			return u, svcerrors.Validation("cover_art_url", "cover_art_url must be an http(s) URL")
		}
		u.CoverArtURL = in.CoverArtURL
	}
	if (in.DurationSeconds != nil && *in.DurationSeconds < 0) || (in.BPM != nil && *in.BPM < 0) {
		return u, svcerrors.Validation("duration_seconds", "duration and bpm must not be negative")
	}
	if in.LicenseType != nil {
		l := strings.ToLower(strings.TrimSpace(*in.LicenseType))
		if !validLicense(l) {
			return u, svcerrors.Validation("license_type", "license_type must be ecosystem or commercial_sample")
		}
		u.LicenseType = &l
	}
	return u, nil
}

// UploadURLInput is the body of POST /api/ethos/tracks/upload-url.
type UploadURLInput struct {
	ContentType string `json:"content_type"`
}

// extension returns the file extension for the declared audio type.
func (in UploadURLInput) extension() (string, error) {
	ct := strings.ToLower(strings.TrimSpace(in.ContentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ext, ok := audioTypes[ct]
	if !ok {
		return "", svcerrors.Validation("content_type", "content_type must be an audio type")
	}
	return ext, nil
}

func normalizeGenre(g string) (string, error) {
	g = strings.ToLower(strings.TrimSpace(g))
	if len(g) > maxGenreLen {
		return "", svcerrors.Validation("genre", "genre is too long")
	}
	return g, nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
