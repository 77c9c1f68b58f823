package etl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// UnstructuredClient calls the Unstructured partition API.
type UnstructuredClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// NewUnstructuredClient creates an Unstructured API client.
func NewUnstructuredClient(config Config) (*UnstructuredClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("unstructured API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.unstructuredapp.io"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &UnstructuredClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("unstructured-client"),
	}, nil
}

// Name returns the service selector value.
func (c *UnstructuredClient) Name() string {
	return ServiceUnstructured
}

// Convert partitions the file and joins the element texts.
func (c *UnstructuredClient) Convert(ctx context.Context, file File) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("files", file.Name)
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.WriteField("strategy", "auto"); err != nil {
		return "", fmt.Errorf("failed to write field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/general/v0/general", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("unstructured-api-key", c.apiKey)

	c.logger.Debug("partitioning file",
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
		return "", fmt.Errorf("unstructured API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var elements []unstructuredElement
	if err := json.Unmarshal(respBody, &elements); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var out strings.Builder
	for _, el := range elements {
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		if el.Type == "Title" {
			out.WriteString("## ")
		}
		out.WriteString(text)
	}
	if out.Len() == 0 {
		return "", ErrEmptyExtraction
	}
	return out.String(), nil
}

type unstructuredElement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
