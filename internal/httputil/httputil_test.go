package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/internal/logging"
)

func TestWriteErrorUsesServiceErrorStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-9"))
	w := httptest.NewRecorder()

	WriteError(w, req, errors.Conflict("username taken"))

	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "username taken", body.Error)
	assert.Equal(t, "CONFLICT", body.Code)
	assert.Equal(t, "trace-9", body.TraceID)
}

func TestWriteErrorPlainErrorIs500(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), assert.AnError.Error())
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"name":"a"}`, true},
		{"empty", ``, false},
		{"unknown field", `{"name":"a","x":1}`, false},
		{"trailing", `{"name":"a"}{"name":"b"}`, false},
		{"malformed", `{"name":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			var p payload
			got := DecodeJSON(w, req, &p)
			assert.Equal(t, tt.ok, got)
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestDecodeJSONTooLarge(t *testing.T) {
	big := `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	w := httptest.NewRecorder()
	var p map[string]string
	assert.False(t, DecodeJSON(w, req, &p))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	_, ok := RequireUserID(w, req)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = req.WithContext(logging.WithUserID(req.Context(), "u1"))
	w = httptest.NewRecorder()
	id, ok := RequireUserID(w, req)
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query   string
		limit   int
		offset  int
		wantErr bool
	}{
		{"", DefaultLimit, 0, false},
		{"?limit=5&offset=10", 5, 10, false},
		{"?limit=0", DefaultLimit, 0, false},
		{"?limit=1000", MaxLimit, 0, false},
		{"?limit=abc", 0, 0, true},
		{"?offset=-1", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p, err := ParsePagination(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, p.Limit)
			assert.Equal(t, tt.offset, p.Offset)
		})
	}
}

func TestPaginationRange(t *testing.T) {
	p := Pagination{Limit: 20, Offset: 40}
	assert.Equal(t, 40, p.From())
	assert.Equal(t, 59, p.To())
}

func TestReadAllStrict(t *testing.T) {
	_, err := ReadAllStrict(strings.NewReader("abcdef"), 3)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	data, err := ReadAllStrict(strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
