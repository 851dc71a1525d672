package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

const (
	moduleName      = "asset-payouts/snapshot-service"
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 512
)

// Client uploads documents through the Kubo HTTP RPC API (/api/v0/add) and
// pins them.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(endpoint string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("ipfs api endpoint required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   trimmed,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("build ipfs upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build ipfs upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build ipfs upload: %w", err)
	}

	url := c.endpoint + "/api/v0/add?pin=true&cid-version=0"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("build ipfs request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		c.logger.Warn("ipfs upload rejected",
			"event", "snapshot_ipfs_upload_rejected",
			"module", moduleName,
			"layer", "adapter",
			"document", name,
			"status_code", resp.StatusCode,
		)
		return "", fmt.Errorf("ipfs add: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded addResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode ipfs add response: %w", err)
	}
	hash := strings.TrimSpace(decoded.Hash)
	if hash == "" {
		return "", fmt.Errorf("ipfs add: empty content hash")
	}
	if !IsCIDv0(hash) {
		return "", fmt.Errorf("ipfs add: expected a CIDv0, got %q", hash)
	}

	c.logger.Info("document uploaded to ipfs",
		"event", "snapshot_ipfs_uploaded",
		"module", moduleName,
		"layer", "adapter",
		"document", name,
		"content_hash", hash,
		"bytes", len(data),
	)
	return hash, nil
}

var _ ports.ContentStore = (*Client)(nil)
