package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rhinehart514/hivesync/pkg/stream"
)

// maxFrameLine bounds one NDJSON line. Snapshot-bearing frames carry whole
// state documents, so the default scanner limit is too small.
const maxFrameLine = 1 << 20

// Watch opens the live stream for one deployment's state and decodes frames
// onto the returned channel. The channel closes when the server ends the
// stream or ctx is canceled; cancel ctx to stop watching.
func (c *Client) Watch(ctx context.Context, toolID, deploymentID string) (<-chan stream.Frame, error) {
	if deploymentID == "" {
		return nil, fmt.Errorf("deploymentId is required for watching")
	}

	query := url.Values{}
	query.Set("deploymentId", deploymentID)
	target := c.baseURL + "/v1/tools/" + url.PathEscape(toolID) + "/updates?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	c.decorate(req)

	// The configured client timeout would cut a healthy stream off; reuse
	// the transport without it. Cancellation comes from ctx instead.
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, decodeAPIError(resp.StatusCode, raw)
	}

	frames := make(chan stream.Frame)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame stream.Frame
			if err := json.Unmarshal(line, &frame); err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}
