package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// StorageClient handles Supabase Storage operations.
type StorageClient struct {
	client *Client
}

// =============================================================================
// File Operations
// =============================================================================

// Upload uploads a file to a bucket.
func (s *StorageClient) Upload(ctx context.Context, bucketID, filePath string, data []byte, opts *UploadOptions) (*FileObject, error) {
	headers := map[string]string{"Content-Type": "application/octet-stream"}
	if opts != nil {
		if opts.ContentType != "" {
			headers["Content-Type"] = opts.ContentType
		}
		if opts.CacheControl != "" {
			headers["Cache-Control"] = opts.CacheControl
		}
		if opts.Upsert {
			headers["x-upsert"] = "true"
		}
	}

	resp, err := s.client.do(ctx, http.MethodPost, s.objectURL("object", bucketID, filePath), data, headers, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.Body, resp.StatusCode)
	}

	var obj FileObject
	if err := json.Unmarshal(resp.Body, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if obj.Name == "" {
		obj.Name = filePath
	}
	return &obj, nil
}

// Download downloads a file.
func (s *StorageClient) Download(ctx context.Context, bucketID, filePath string) ([]byte, error) {
	resp, err := s.client.do(ctx, http.MethodGet, s.objectURL("object", bucketID, filePath), nil, map[string]string{"Accept": "*/*"}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.Body, resp.StatusCode)
	}
	return resp.Body, nil
}

// Delete removes files from a bucket.
func (s *StorageClient) Delete(ctx context.Context, bucketID string, filePaths []string) error {
	payload := map[string][]string{"prefixes": filePaths}
	_, err := s.client.doJSON(ctx, http.MethodDelete, s.client.storageURL+"/object/"+url.PathEscape(bucketID), payload, "")
	return err
}

// GetPublicURL returns the public URL for a file in a public bucket.
func (s *StorageClient) GetPublicURL(bucketID, filePath string) string {
	return s.objectURL("object/public", bucketID, filePath)
}

// CreateSignedURL creates a time-limited download URL.
func (s *StorageClient) CreateSignedURL(ctx context.Context, bucketID, filePath string, expiresIn int) (string, error) {
	data, err := s.client.doJSON(ctx, http.MethodPost, s.objectURL("object/sign", bucketID, filePath), map[string]int{"expiresIn": expiresIn}, "")
	if err != nil {
		return "", err
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.SignedURL == "" {
		return "", fmt.Errorf("storage returned empty signed URL")
	}
	return s.absolute(result.SignedURL), nil
}

// CreateSignedUploadURL creates a one-shot URL the browser can PUT the file to.
func (s *StorageClient) CreateSignedUploadURL(ctx context.Context, bucketID, filePath string) (*SignedUpload, error) {
	data, err := s.client.doJSON(ctx, http.MethodPost, s.objectURL("object/upload/sign", bucketID, filePath), nil, "")
	if err != nil {
		return nil, err
	}

	var result struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if result.URL == "" {
		return nil, fmt.Errorf("storage returned empty upload URL")
	}

	token := result.Token
	if token == "" {
		if u, err := url.Parse(result.URL); err == nil {
			token = u.Query().Get("token")
		}
	}

	return &SignedUpload{
		URL:   s.absolute(result.URL),
		Token: token,
		Path:  filePath,
	}, nil
}

func (s *StorageClient) objectURL(prefix, bucketID, filePath string) string {
	segments := strings.Split(strings.TrimLeft(filePath, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s/%s", s.client.storageURL, prefix, url.PathEscape(bucketID), strings.Join(segments, "/"))
}

// absolute resolves the relative paths storage returns ("/object/sign/...").
func (s *StorageClient) absolute(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return s.client.storageURL + "/" + strings.TrimLeft(p, "/")
}
