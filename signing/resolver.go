// Package signing acquires signed upload URLs from a signing endpoint that
// may accept any of three request shapes.
package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const signPath = "/api/sign"

// ErrSigningUnavailable is returned when every strategy failed to yield a URL.
var ErrSigningUnavailable = errors.New("signing service unavailable")

// Mode selects how the filename is carried in a GET signing request.
type Mode string

const (
	// ModeQuery sends the filename as the `filename` query parameter.
	ModeQuery Mode = "query"
	// ModePath sends the filename as the last path segment.
	ModePath Mode = "path"
	// ModePost sends the filename in a JSON body.
	ModePost Mode = "post"
)

// URLResolver ...
type URLResolver interface {
	Resolve(ctx context.Context, filename string) (string, error)
}

type signRequest struct {
	Filename string `json:"filename"`
}

type signResponse struct {
	URL string `json:"url"`
}

// Resolver tries the query, path and post strategies in that order.
type Resolver struct {
	httpClient *retryablehttp.Client
	baseURL    string
	logger     log.Logger
}

// NewResolver ...
func NewResolver(client *retryablehttp.Client, baseURL string, logger log.Logger) *Resolver {
	return &Resolver{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// BuildSignURL returns the signing path for filename in query or path mode.
// Any other mode falls back to query mode.
func BuildSignURL(filename string, mode Mode) string {
	enc := EncodeComponent(filename)
	if mode == ModePath {
		return fmt.Sprintf("%s/%s", signPath, enc)
	}
	return fmt.Sprintf("%s?filename=%s", signPath, enc)
}

// componentUnescaper undoes the query escaping of characters that are legal
// in a URL component, and turns '+' into %20.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeComponent percent-encodes s for use as a single URL component.
// Letters, digits and -_.!~*'() are kept; spaces become %20, never '+'.
func EncodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// Resolve returns the first usable signed URL. Individual strategy failures
// are only logged.
func (r *Resolver) Resolve(ctx context.Context, filename string) (string, error) {
	for _, mode := range []Mode{ModeQuery, ModePath, ModePost} {
		signedURL, err := r.attempt(ctx, filename, mode)
		if err != nil {
			r.logger.Debugf("Signing strategy %s failed for %s: %s", mode, filename, err)
			continue
		}
		if signedURL == "" {
			r.logger.Debugf("Signing strategy %s returned no URL for %s", mode, filename)
			continue
		}
		return signedURL, nil
	}
	return "", fmt.Errorf("sign %s: %w", filename, ErrSigningUnavailable)
}

func (r *Resolver) attempt(ctx context.Context, filename string, mode Mode) (string, error) {
	req, err := r.newRequest(ctx, filename, mode)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if resp != nil {
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				r.logger.Printf("%s", err)
			}
		}(resp.Body)
	}
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", unwrapError(resp)
	}

	return parseSignResponse(resp)
}

func (r *Resolver) newRequest(ctx context.Context, filename string, mode Mode) (*retryablehttp.Request, error) {
	if mode != ModePost {
		return retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+BuildSignURL(filename, mode), nil)
	}

	body, err := json.Marshal(signRequest{Filename: filename})
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+signPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func parseSignResponse(resp *http.Response) (string, error) {
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var response signResponse
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return "", fmt.Errorf("decode sign response: %w", err)
		}
		return strings.TrimSpace(response.URL), nil
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
