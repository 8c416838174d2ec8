package profiles

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aethex/platform/internal/arms"
	svcerrors "github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/services/profiles/supabase"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	maxFullNameLen = 100
	maxBioLen      = 1000
	maxLocationLen = 100
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// UpdateProfileInput is the body of PUT /api/profile. Nil fields keep their
// stored value.
type UpdateProfileInput struct {
	Username    *string `json:"username"`
	FullName    *string `json:"full_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
	BannerURL   *string `json:"banner_url"`
	PrimaryArm  *string `json:"primary_arm"`
	UserType    *string `json:"user_type"`
	Location    *string `json:"location"`
	WebsiteURL  *string `json:"website_url"`
	GithubURL   *string `json:"github_url"`
	TwitterURL  *string `json:"twitter_url"`
	LinkedinURL *string `json:"linkedin_url"`
}

// apply copies the set fields onto p and validates the result.
func (in UpdateProfileInput) apply(p *supabase.Profile) error {
	if in.Username != nil {
		p.Username = NormalizeUsername(*in.Username)
		if err := ValidateUsername(p.Username); err != nil {
			return err
		}
	}
	if in.FullName != nil {
		p.FullName = strings.TrimSpace(*in.FullName)
		if len(p.FullName) > maxFullNameLen {
			return svcerrors.Validation("full_name", fmt.Sprintf("full_name must be at most %d characters", maxFullNameLen))
		}
	}
	if in.Bio != nil {
		p.Bio = strings.TrimSpace(*in.Bio)
		if len(p.Bio) > maxBioLen {
			return svcerrors.Validation("bio", fmt.Sprintf("bio must be at most %d characters", maxBioLen))
		}
	}
	if in.Location != nil {
		p.Location = strings.TrimSpace(*in.Location)
		if len(p.Location) > maxLocationLen {
			return svcerrors.Validation("location", fmt.Sprintf("location must be at most %d characters", maxLocationLen))
		}
	}
	if in.PrimaryArm != nil {
		arm := arms.Normalize(*in.PrimaryArm)
		if arm != "" && !arms.Valid(arm) {
			return svcerrors.Validation("primary_arm", "invalid arm")
		}
		p.PrimaryArm = arm
	}
	if in.UserType != nil {
		p.UserType = strings.TrimSpace(*in.UserType)
	}

	urls := []struct {
		field string
		in    *string
		out   *string
	}{
		{"avatar_url", in.AvatarURL, &p.AvatarURL},
		{"banner_url", in.BannerURL, &p.BannerURL},
		{"website_url", in.WebsiteURL, &p.WebsiteURL},
		{"github_url", in.GithubURL, &p.GithubURL},
		{"twitter_url", in.TwitterURL, &p.TwitterURL},
		{"linkedin_url", in.LinkedinURL, &p.LinkedinURL},
	}
	for _, u := range urls {
		if u.in == nil {
			continue
		}
		v := strings.TrimSpace(*u.in)
		if v != "" && !validHTTPURL(v) {
			return svcerrors.Validation(u.field, u.field+" must be an http(s) URL")
		}
		*u.out = v
	}
	return nil
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUsername checks length and the allowed character set.
func ValidateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return svcerrors.Validation("username", fmt.Sprintf("username must be %d-%d characters", minUsernameLen, maxUsernameLen))
	}
	if !usernamePattern.MatchString(username) {
		return svcerrors.Validation("username", "username may only contain a-z, 0-9, '_', '.' and '-'")
	}
	return nil
}

// UsernameFromEmail derives a valid username from the local part of email.
func UsernameFromEmail(email string) string {
	local := email
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	local = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return -1
	}, local)
	if len(local) > maxUsernameLen {
		local = local[:maxUsernameLen]
	}
	for len(local) < minUsernameLen {
		local += "_"
	}
	if strings.Trim(local, "_") == "" {
		local = "user"
	}
	return local
}

// WithSuffix appends a short random suffix, keeping the result within the
// length limit.
func WithSuffix(username string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	base := username
	if max := maxUsernameLen - len(suffix) - 1; len(base) > max {
		base = base[:max]
	}
	return base + "_" + suffix
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
