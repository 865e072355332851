// Package adengine talks to the ad decision service and drives the resulting
// ad schedule through a hosted reconciler, one break at a time.
package adengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Creative is one ad within a break.
type Creative struct {
	URI        string `json:"uri"`
	DurationUs int64  `json:"duration_us"`
}

// Break is an ordered list of creatives for one ad group. Breaks line up
// positionally with the decision's cue points.
type Break struct {
	Ads []Creative `json:"ads"`
}

// Decision is the ad decision service's answer to one ad request. CuePoints
// are fractions of the content duration in [0,1), or -1 for a postroll. An
// empty list means a single preroll break.
type Decision struct {
	CuePoints []float64 `json:"cue_points"`
	Breaks    []Break   `json:"breaks"`
}

// Client fetches ad decisions over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Fetch resolves the decision for an ad tag. The tag is opaque to us; the
// decision service interprets it.
func (c *Client) Fetch(ctx context.Context, adTagURL string) (*Decision, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("ad decision url: %w", err)
	}
	q := u.Query()
	q.Set("tag", adTagURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ad decision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ad decision status %d: %s", resp.StatusCode, string(body))
	}

	var d Decision
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&d); err != nil {
		return nil, fmt.Errorf("ad decision decode: %w", err)
	}
	if err := validateDecision(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func validateDecision(d *Decision) error {
	for i, cp := range d.CuePoints {
		if cp != -1 && (cp < 0 || cp >= 1) {
			return fmt.Errorf("ad decision cue point %d out of range: %v", i, cp)
		}
	}
	for i, br := range d.Breaks {
		for j, ad := range br.Ads {
			if ad.URI == "" {
				return fmt.Errorf("ad decision break %d ad %d has no uri", i, j)
			}
		}
	}
	return nil
}
