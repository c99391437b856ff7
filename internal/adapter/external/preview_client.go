package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"fotofeed-core/internal/core/ports"

	"github.com/rs/zerolog"
)

// PreviewClient implements ports.PreviewGenerationService over the preview
// engine's HTTP API.
type PreviewClient struct {
	baseURL string
	client  HTTPClient
	log     zerolog.Logger
}

// NewPreviewClient creates a new PreviewClient.
func NewPreviewClient(baseURL string, client HTTPClient, log zerolog.Logger) *PreviewClient {
	return &PreviewClient{baseURL: baseURL, client: client, log: log}
}

type generatePreviewsRequest struct {
	SourceRef string `json:"source_ref"`
}

type generatePreviewsResponse struct {
	Assets []ports.AssetRef `json:"assets"`
}

// Generate submits a photo for preview generation and returns the derived
// asset references.
func (c *PreviewClient) Generate(ctx context.Context, sourceRef string) ([]ports.AssetRef, error) {
	body, err := json.Marshal(generatePreviewsRequest{SourceRef: sourceRef})
	if err != nil {
		return nil, fmt.Errorf("marshaling preview request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/previews", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building preview request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling preview engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("preview engine returned %d: %s", resp.StatusCode, payload)
	}

	var parsed generatePreviewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding preview response: %w", err)
	}

	c.log.Debug().
		Str("source_ref", sourceRef).
		Int("assets", len(parsed.Assets)).
		Msg("preview generation completed")
	return parsed.Assets, nil
}
