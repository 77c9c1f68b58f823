// Package github indexes source and documentation files from GitHub
// repositories using a personal access token.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	defaultBaseURL = "https://api.github.com"

	// maxFileSize skips vendored bundles and generated blobs.
	maxFileSize = 200 * 1024

	reposPageSize = 100
)

// fileExtensions maps indexable extensions to their fence language. Empty
// means the file is prose and renders unfenced.
var fileExtensions = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "bash",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".json":  "json",
	".md":    "",
	".rst":   "",
	".txt":   "",
}

// Config is the connector config the adapter decodes.
type Config struct {
	PersonalAccessToken string   `mapstructure:"personal_access_token"`
	Repos               []string `mapstructure:"repos"`
	BaseURL             string   `mapstructure:"base_url"`
}

// Adapter indexes repository files via the GitHub REST API.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	http   *http.Client
	logger hclog.Logger
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	if cfg.PersonalAccessToken == "" {
		return nil, fmt.Errorf("%w: personal_access_token", connectors.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		http:      deps.HTTPClient(),
		logger:    deps.Log().Named("github"),
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeGitHub
}

// Validate checks the token against /user.
func (a *Adapter) Validate(ctx context.Context) error {
	var user struct {
		Login string `json:"login"`
	}
	if err := a.get(ctx, "/user", &user); err != nil {
		return err
	}
	if user.Login == "" {
		return fmt.Errorf("%w: github token resolved no user", connectors.ErrInvalidCredentials)
	}
	return nil
}

// ListFull yields indexable files from each selected repository. Repos not
// pushed since the window start are skipped wholesale.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	repos := a.cfg.Repos
	if len(repos) == 0 {
		listed, err := a.listOwnRepos(ctx)
		if err != nil {
			return nil, err
		}
		repos = listed
	}

	return func(yield func(connectors.RawItem, error) bool) {
		for _, fullName := range repos {
			if !a.yieldRepo(ctx, fullName, win, yield) {
				return
			}
		}
	}, nil
}

func (a *Adapter) yieldRepo(ctx context.Context, fullName string, win connectors.Window, yield func(connectors.RawItem, error) bool) bool {
	var repo struct {
		FullName      string    `json:"full_name"`
		DefaultBranch string    `json:"default_branch"`
		PushedAt      time.Time `json:"pushed_at"`
		HTMLURL       string    `json:"html_url"`
	}
	if err := a.get(ctx, "/repos/"+fullName, &repo); err != nil {
		return yield(connectors.RawItem{}, fmt.Errorf("repo %s: %w", fullName, err))
	}
	if repo.PushedAt.Before(win.Start) {
		a.logger.Debug("repo unchanged since window start", "repo", fullName)
		return true
	}

	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			Size int    `json:"size"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	treePath := fmt.Sprintf("/repos/%s/git/trees/%s?recursive=1", fullName, repo.DefaultBranch)
	if err := a.get(ctx, treePath, &tree); err != nil {
		return yield(connectors.RawItem{}, fmt.Errorf("tree of %s: %w", fullName, err))
	}
	if tree.Truncated {
		a.logger.Warn("repo tree truncated by the API", "repo", fullName)
	}

	for _, entry := range tree.Tree {
		if entry.Type != "blob" || entry.Size > maxFileSize {
			continue
		}
		lang, ok := fileExtensions[strings.ToLower(path.Ext(entry.Path))]
		if !ok {
			continue
		}

		content, err := a.fileContent(ctx, fullName, repo.DefaultBranch, entry.Path)
		if err != nil {
			if connectors.IsRunFatal(err) {
				yield(connectors.RawItem{}, err)
				return false
			}
			if !yield(connectors.RawItem{}, fmt.Errorf("%w: %s/%s: %v", connectors.ErrItemMalformed, fullName, entry.Path, err)) {
				return false
			}
			continue
		}

		fileURL := fmt.Sprintf("%s/blob/%s/%s", repo.HTMLURL, repo.DefaultBranch, entry.Path)
		item := connectors.RawItem{
			SourceID: fullName + ":" + entry.Path,
			Title:    fullName + "/" + entry.Path,
			URL:      fileURL,
			Payload: map[string]interface{}{
				"repo":     fullName,
				"path":     entry.Path,
				"language": lang,
				"content":  content,
			},
			Metadata: map[string]interface{}{
				"url":    fileURL,
				"repo":   fullName,
				"path":   entry.Path,
				"branch": repo.DefaultBranch,
			},
			ModifiedAt: repo.PushedAt.UTC(),
		}
		if !yield(item, nil) {
			return false
		}
	}
	return true
}

func (a *Adapter) fileContent(ctx context.Context, repo, branch, filePath string) (string, error) {
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	p := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, filePath, branch)
	if err := a.get(ctx, p, &file); err != nil {
		return "", err
	}
	if file.Encoding != "base64" {
		return file.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}
	return string(decoded), nil
}

// FormatMarkdown renders code files fenced and prose files inline.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	repo, _ := raw.Payload["repo"].(string)
	filePath, _ := raw.Payload["path"].(string)
	lang, _ := raw.Payload["language"].(string)
	content, _ := raw.Payload["content"].(string)

	header := fmt.Sprintf("# %s/%s\n\n", repo, filePath)
	ext := strings.ToLower(path.Ext(filePath))
	if fence, ok := fileExtensions[ext]; ok && fence == "" {
		return header + strings.TrimSpace(content) + "\n"
	}
	return header + "```" + lang + "\n" + strings.TrimRight(content, "\n") + "\n```\n"
}

func (a *Adapter) listOwnRepos(ctx context.Context) ([]string, error) {
	var out []string
	for pageNum := 1; ; pageNum++ {
		var repos []struct {
			FullName string `json:"full_name"`
			Archived bool   `json:"archived"`
		}
		p := fmt.Sprintf("/user/repos?per_page=%d&page=%d&affiliation=owner", reposPageSize, pageNum)
		if err := a.get(ctx, p, &repos); err != nil {
			return nil, fmt.Errorf("list repos: %w", err)
		}
		for _, r := range repos {
			if !r.Archived {
				out = append(out, r.FullName)
			}
		}
		if len(repos) < reposPageSize {
			return out, nil
		}
	}
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	return connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.PersonalAccessToken)
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := a.http.Do(req)
		if err != nil {
			return connectors.ClassifyTransport(ctx, err)
		}
		defer resp.Body.Close()

		if err := connectors.CheckResponse(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode github response: %w", err)
		}
		return nil
	})
}
