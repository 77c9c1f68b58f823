package etl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DoclingClient calls a docling-serve instance, typically self-hosted.
type DoclingClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// NewDoclingClient creates a docling-serve client. The base URL is required
// because docling has no hosted default.
func NewDoclingClient(config Config) (*DoclingClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("docling base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 300 * time.Second // Local OCR can be slow
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &DoclingClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("docling-client"),
	}, nil
}

// Name returns the service selector value.
func (c *DoclingClient) Name() string {
	return ServiceDocling
}

// Convert sends the file inline and returns the markdown rendering.
func (c *DoclingClient) Convert(ctx context.Context, file File) (string, error) {
	reqBody := doclingConvertRequest{
		Options: doclingOptions{ToFormats: []string{"md"}},
		Sources: []doclingSource{
			{
				Kind:         "file",
				Base64String: base64.StdEncoding.EncodeToString(file.Data),
				Filename:     file.Name,
			},
		},
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1alpha/convert/source", bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("converting file",
		"file", file.Name,
		"mime_type", file.MimeType,
		"bytes", len(file.Data),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("docling API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var convResp doclingConvertResponse
	if err := json.Unmarshal(respBody, &convResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if convResp.Status != "" && convResp.Status != "success" {
		return "", fmt.Errorf("docling conversion failed with status %s", convResp.Status)
	}
	if strings.TrimSpace(convResp.Document.MdContent) == "" {
		return "", ErrEmptyExtraction
	}
	return convResp.Document.MdContent, nil
}

// Docling API types

type doclingConvertRequest struct {
	Options doclingOptions  `json:"options"`
	Sources []doclingSource `json:"sources"`
}

type doclingOptions struct {
	ToFormats []string `json:"to_formats"`
}

type doclingSource struct {
	Kind         string `json:"kind"`
	Base64String string `json:"base64_string"`
	Filename     string `json:"filename"`
}

type doclingConvertResponse struct {
	Status   string `json:"status"`
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
}
