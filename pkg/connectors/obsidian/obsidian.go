// Package obsidian indexes the markdown notes of a local Obsidian vault.
//
// The adapter reads the vault through an afero filesystem rooted at the
// configured path and is only available on self-hosted deployments, where
// the vault directory is reachable from the server process.
package obsidian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// maxNoteBytes caps how large a single note may be.
const maxNoteBytes = 2 << 20

// Config is the connector config the adapter decodes.
type Config struct {
	VaultPath string `mapstructure:"vault_path"`
}

// Adapter walks a vault and yields one item per markdown note.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	fs     afero.Fs
	logger hclog.Logger
}

// New builds the adapter from a stored connector row. Vault access needs
// filesystem reach, so cloud deployments reject the connector outright.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	if !deps.SelfHosted {
		return nil, fmt.Errorf("obsidian connector requires a self-hosted deployment")
	}
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	if cfg.VaultPath == "" {
		return nil, fmt.Errorf("obsidian connector has no vault_path configured")
	}

	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		fs:        afero.NewBasePathFs(afero.NewOsFs(), cfg.VaultPath),
		logger:    deps.Log().Named("obsidian"),
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeObsidian
}

// Validate checks the vault directory exists and is readable.
func (a *Adapter) Validate(ctx context.Context) error {
	ok, err := afero.DirExists(a.fs, ".")
	if err != nil {
		return fmt.Errorf("vault %s: %w", a.cfg.VaultPath, err)
	}
	if !ok {
		return fmt.Errorf("vault %s: not a directory", a.cfg.VaultPath)
	}
	return nil
}

// ListFull walks the vault and yields notes whose modification time falls
// inside the window. Dot-directories (.obsidian, .trash) are skipped.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	return func(yield func(connectors.RawItem, error) bool) {
		stop := fmt.Errorf("listing abandoned")
		err := afero.Walk(a.fs, ".", func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			name := info.Name()
			if info.IsDir() {
				if strings.HasPrefix(name, ".") && path != "." {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.EqualFold(filepath.Ext(name), ".md") || info.Size() > maxNoteBytes {
				return nil
			}
			mod := info.ModTime().UTC()
			if mod.Before(win.Start) || mod.After(win.End) {
				return nil
			}

			item, err := a.buildItem(path, mod)
			if err != nil {
				if !yield(connectors.RawItem{}, fmt.Errorf("%w: note %s: %v", connectors.ErrItemMalformed, path, err)) {
					return stop
				}
				return nil
			}
			if !yield(item, nil) {
				return stop
			}
			return nil
		})
		if err != nil && err != stop {
			yield(connectors.RawItem{}, fmt.Errorf("walk vault: %w", err))
		}
	}, nil
}

func (a *Adapter) buildItem(path string, mod time.Time) (connectors.RawItem, error) {
	raw, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return connectors.RawItem{}, err
	}

	meta, body := SplitFrontmatter(string(raw))
	rel := filepath.ToSlash(path)

	title := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	if t, ok := meta["title"].(string); ok && t != "" {
		title = t
	}
	tags := stringList(meta["tags"])

	return connectors.RawItem{
		SourceID: "vault:" + rel,
		Title:    title,
		Payload: map[string]interface{}{
			"path":  rel,
			"title": title,
			"tags":  tags,
			"body":  body,
		},
		Metadata: map[string]interface{}{
			"path": rel,
			"tags": tags,
		},
		ModifiedAt: mod,
	}, nil
}

// FormatMarkdown renders one note. The body is already markdown, so the
// rendering is the body under a title header with the vault path and tags.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	title, _ := raw.Payload["title"].(string)
	path, _ := raw.Payload["path"].(string)
	body, _ := raw.Payload["body"].(string)
	tags, _ := raw.Payload["tags"].([]string)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Note: %s\n", path)
	if len(tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")
	return b.String()
}

// SplitFrontmatter separates a leading YAML frontmatter block from the note
// body. Notes without a block, or with a block that fails to parse, come
// back with nil metadata and the full text as body.
func SplitFrontmatter(content string) (map[string]interface{}, string) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimRight(lines[0], "\r") != "---" {
		return nil, content
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], "\r")
		if trimmed == "---" || trimmed == "..." {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, content
	}

	var meta map[string]interface{}
	block := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return nil, content
	}
	body := strings.Join(lines[end+1:], "\n")
	return meta, strings.TrimLeft(body, "\r\n")
}

func stringList(v interface{}) []string {
	switch vals := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vals == "" {
			return nil
		}
		return []string{vals}
	default:
		return nil
	}
}
