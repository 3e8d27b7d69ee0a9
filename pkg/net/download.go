package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxImageBytesDefault caps the size of fetched images.
const MaxImageBytesDefault int64 = 20 * 1024 * 1024

var (
	ErrorURLNotFound = errors.New("URL not found")
	ErrorTooLarge    = errors.New("content exceeds size limit")
)

// Image is a fetched remote image.
type Image struct {
	URL         string
	ContentType string
	Data        []byte
}

func getResp(ctx context.Context, url, token string) (*http.Response, error) {
	var c *http.Client
	if token != "" {
		c = GetOAuthClient(ctx, token)
	} else {
		var err error
		if c, err = GetHTTPClient(); err != nil {
			return nil, fmt.Errorf("creating HTTP client: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP Get request: %w", err)
	}

	req.Header.Set("User-Agent", clientAgent)
	req.Header.Set("Accept", "image/*")

	return c.Do(req) //nolint:gosec // URL provided by the operator
}

// Fetch downloads the image at url. When token is set it is sent as a bearer token.
// A maxBytes of 0 uses MaxImageBytesDefault.
func Fetch(ctx context.Context, url, token string, maxBytes int64) (*Image, error) {
	if url == "" {
		return nil, errors.New("url required")
	}
	if maxBytes <= 0 {
		maxBytes = MaxImageBytesDefault
	}

	resp, err := getResp(ctx, url, token)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrorURLNotFound
	}

	if resp.StatusCode != http.StatusOK {
		PrintHTTPResponse(resp)
		return nil, fmt.Errorf("error downloading image (status: %d - %s): %s", resp.StatusCode, resp.Status, url)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image content: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("%w: %s larger than %d bytes", ErrorTooLarge, url, maxBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(b)
	}

	return &Image{URL: url, ContentType: strings.TrimSpace(ct), Data: b}, nil
}
