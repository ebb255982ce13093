package signing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// Probe checks that a signed URL is reachable with a single HEAD request.
// Any 2xx answer counts as available.
func Probe(ctx context.Context, client *retryablehttp.Client, signedURL string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, signedURL, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}

	resp, err := client.Do(req)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe: HTTP %d", resp.StatusCode)
	}
	return nil
}
