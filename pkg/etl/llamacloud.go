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

// LlamaCloudClient calls the LlamaParse API: upload, poll the parse job,
// fetch the markdown result.
type LlamaCloudClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       hclog.Logger
}

// NewLlamaCloudClient creates a LlamaParse client.
func NewLlamaCloudClient(config Config) (*LlamaCloudClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("llamacloud API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.cloud.llamaindex.ai"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &LlamaCloudClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		pollInterval: 2 * time.Second,
		logger:       config.Logger.Named("llamacloud-client"),
	}, nil
}

// Name returns the service selector value.
func (c *LlamaCloudClient) Name() string {
	return ServiceLlamaCloud
}

// Convert uploads the file, waits for the parse job and returns its markdown.
func (c *LlamaCloudClient) Convert(ctx context.Context, file File) (string, error) {
	jobID, err := c.upload(ctx, file)
	if err != nil {
		return "", err
	}

	c.logger.Debug("parse job submitted",
		"file", file.Name,
		"job_id", jobID,
	)

	if err := c.waitForJob(ctx, jobID); err != nil {
		return "", err
	}

	return c.fetchMarkdown(ctx, jobID)
}

func (c *LlamaCloudClient) upload(ctx context.Context, file File) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/parsing/upload", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var job llamaParseJob
	if err := json.Unmarshal(respBody, &job); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("upload response missing job id")
	}
	return job.ID, nil
}

func (c *LlamaCloudClient) waitForJob(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/parsing/job/"+jobID, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		respBody, err := c.do(req)
		if err != nil {
			return err
		}

		var job llamaParseJob
		if err := json.Unmarshal(respBody, &job); err != nil {
			return fmt.Errorf("failed to parse job status: %w", err)
		}

		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELLED":
			return fmt.Errorf("parse job %s finished with status %s", jobID, job.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *LlamaCloudClient) fetchMarkdown(ctx context.Context, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/parsing/job/"+jobID+"/result/markdown", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var result llamaParseResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse result: %w", err)
	}
	if strings.TrimSpace(result.Markdown) == "" {
		return "", ErrEmptyExtraction
	}
	return result.Markdown, nil
}

func (c *LlamaCloudClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llamacloud API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type llamaParseJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type llamaParseResult struct {
	Markdown string `json:"markdown"`
}
