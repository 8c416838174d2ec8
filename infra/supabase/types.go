// Package supabase provides a Supabase client covering PostgREST, Auth and Storage.
// The service role key is attached to every request unless a per-request user
// access token is supplied, in which case row level security applies.
package supabase

import (
	"errors"
	"net/http"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds Supabase client configuration.
type Config struct {
	// ProjectURL is the Supabase project URL (e.g., https://xxx.supabase.co)
	ProjectURL string

	// AnonKey is the public anon key, sent as apikey with user tokens.
	AnonKey string

	// ServiceKey is the service role key used for server-side operations
	// that bypass RLS.
	ServiceKey string

	// AllowedHosts restricts outbound requests (derived from ProjectURL if empty)
	AllowedHosts []string

	// DefaultHeaders are added to every request
	DefaultHeaders map[string]string

	// Timeout for HTTP requests
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// =============================================================================
// Auth Types
// =============================================================================

// User represents a Supabase user.
type User struct {
	ID               string                 `json:"id"`
	Aud              string                 `json:"aud"`
	Role             string                 `json:"role"`
	Email            string                 `json:"email"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at,omitempty"`
	Phone            string                 `json:"phone,omitempty"`
	LastSignInAt     *time.Time             `json:"last_sign_in_at,omitempty"`
	AppMetadata      map[string]interface{} `json:"app_metadata,omitempty"`
	UserMetadata     map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Session represents an auth session.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// SignUpRequest for user registration.
type SignUpRequest struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// =============================================================================
// Database Types
// =============================================================================

// FilterOperator for query filters.
type FilterOperator string

const (
	OpEq          FilterOperator = "eq"
	OpNeq         FilterOperator = "neq"
	OpGt          FilterOperator = "gt"
	OpGte         FilterOperator = "gte"
	OpLt          FilterOperator = "lt"
	OpLte         FilterOperator = "lte"
	OpLike        FilterOperator = "like"
	OpILike       FilterOperator = "ilike"
	OpIs          FilterOperator = "is"
	OpIn          FilterOperator = "in"
	OpContains    FilterOperator = "cs"
	OpContainedBy FilterOperator = "cd"
	OpOverlap     FilterOperator = "ov"
)

// OrderDirection for sorting.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// Count types accepted by PostgREST's Prefer header.
const (
	CountExact     = "exact"
	CountPlanned   = "planned"
	CountEstimated = "estimated"
)

// =============================================================================
// Storage Types
// =============================================================================

// FileObject represents a file in storage.
type FileObject struct {
	Name      string                 `json:"name"`
	ID        string                 `json:"id,omitempty"`
	BucketID  string                 `json:"bucket_id,omitempty"`
	Key       string                 `json:"Key,omitempty"`
	CreatedAt *time.Time             `json:"created_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// UploadOptions for file uploads.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// SignedUpload is a one-shot upload URL returned by storage.
type SignedUpload struct {
	URL   string `json:"url"`
	Token string `json:"token"`
	Path  string `json:"path"`
}

// =============================================================================
// Error Types
// =============================================================================

// Postgres and PostgREST error codes the handlers care about.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"
	CodeNoRows              = "PGRST116"
)

// Error represents a Supabase API error.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// NewError creates a new Supabase error.
func NewError(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// AsError unwraps err into a *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsUniqueViolation reports a Postgres 23505.
func IsUniqueViolation(err error) bool {
	e, ok := AsError(err)
	return ok && (e.Code == CodeUniqueViolation || (e.StatusCode == http.StatusConflict && e.Code == ""))
}

// IsForeignKeyViolation reports a Postgres 23503.
func IsForeignKeyViolation(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code == CodeForeignKeyViolation
}

// IsNotFound reports a PostgREST "no rows" result or a 404.
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.Code == CodeNoRows || e.StatusCode == http.StatusNotFound
}

// Common errors
var (
	ErrUnauthorized = NewError("unauthorized", "unauthorized", http.StatusUnauthorized)
	ErrNotFound     = NewError(CodeNoRows, "resource not found", http.StatusNotFound)
)
