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

// HTTPClient abstracts http.Client for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FaceClient implements ports.FaceRecognitionService over the recognition
// engine's HTTP API. The injected client carries the request timeout, so a
// hung engine fails the job instead of pinning a worker.
type FaceClient struct {
	baseURL string
	client  HTTPClient
	log     zerolog.Logger
}

// NewFaceClient creates a new FaceClient.
func NewFaceClient(baseURL string, client HTTPClient, log zerolog.Logger) *FaceClient {
	return &FaceClient{baseURL: baseURL, client: client, log: log}
}

type indexFacesRequest struct {
	PhotoRef string `json:"photo_ref"`
}

type indexFacesResponse struct {
	Faces []ports.FaceDetection `json:"faces"`
}

// IndexFaces submits a photo for face indexing and returns the detections.
func (c *FaceClient) IndexFaces(ctx context.Context, photoRef string) ([]ports.FaceDetection, error) {
	body, err := json.Marshal(indexFacesRequest{PhotoRef: photoRef})
	if err != nil {
		return nil, fmt.Errorf("marshaling index request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/index", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling recognition engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("recognition engine returned %d: %s", resp.StatusCode, payload)
	}

	var parsed indexFacesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding index response: %w", err)
	}

	c.log.Debug().
		Str("photo_ref", photoRef).
		Int("faces", len(parsed.Faces)).
		Msg("face indexing completed")
	return parsed.Faces, nil
}
