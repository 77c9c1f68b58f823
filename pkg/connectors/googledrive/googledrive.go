// Package googledrive indexes files from a user's Google Drive.
//
// Listing yields ids only; file bodies are fetched per item so the indexer
// can skip already-indexed files before downloading. Google-native formats
// export to text, everything else downloads and routes through the shared
// text/ETL paths. Delta sync rides the Drive Changes API.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/googleauth"
	"github.com/MODSetter/SurfSense-sub000/pkg/etl"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	mimeFolder       = "application/vnd.google-apps.folder"
	mimeDocument     = "application/vnd.google-apps.document"
	mimeSpreadsheet  = "application/vnd.google-apps.spreadsheet"
	mimePresentation = "application/vnd.google-apps.presentation"

	listPageSize = 100
	maxFileBytes = 50 << 20

	fileFields = "id, name, mimeType, modifiedTime, size, webViewLink, trashed"
)

// exportFormats maps Google-native types to the text format they export as.
var exportFormats = map[string]string{
	mimeDocument:     "text/markdown",
	mimeSpreadsheet:  "text/csv",
	mimePresentation: "text/plain",
}

// Config is the connector config the adapter decodes.
type Config struct {
	googleauth.Credentials `mapstructure:",squash"`

	// Folders restricts the scan to these folder ids. Empty means the whole
	// drive.
	Folders []string `mapstructure:"folders"`

	// Files pins the run to these file ids regardless of the date window.
	// With Files set and Folders empty, nothing else is scanned.
	Files []string `mapstructure:"files"`
}

// Adapter talks to the Drive API for one connector row.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	svc    *drive.Service
	etl    etl.Converter
	logger hclog.Logger
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	ts, err := googleauth.TokenSource(ctx, deps, conn, cfg.Credentials, drive.DriveReadonlyScope)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("build drive service: %w", err)
	}
	return newWithService(deps, conn, cfg, svc), nil
}

func newWithService(deps connectors.Deps, conn *models.Connector, cfg Config, svc *drive.Service) *Adapter {
	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		svc:       svc,
		etl:       deps.Etl,
		logger:    deps.Log().Named("googledrive"),
	}
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeGoogleDrive
}

// VolatileConfigKeys excludes the rewritten token expiry from the settings
// hash; a token refresh alone must not force a full resync.
func (a *Adapter) VolatileConfigKeys() []string {
	return []string{connectors.ConfigKeyTokenExpiry}
}

// Validate fetches the account info, forcing an eager token refresh.
func (a *Adapter) Validate(ctx context.Context) error {
	return googleauth.Do(ctx, func() error {
		_, err := a.svc.About.Get().Fields("user").Context(ctx).Do()
		return err
	})
}

// ListFull yields id-only items for files modified inside the window.
// Explicitly selected files come first; a file-only selection skips the
// query scan entirely.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	query := buildQuery(a.cfg.Folders, win)

	return func(yield func(connectors.RawItem, error) bool) {
		seen := make(map[string]bool, len(a.cfg.Files))
		for _, id := range a.cfg.Files {
			var f *drive.File
			err := googleauth.Do(ctx, func() error {
				var opErr error
				f, opErr = a.svc.Files.Get(id).
					Fields(googleapi.Field(fileFields)).
					Context(ctx).
					Do()
				return opErr
			})
			if err != nil {
				if connectors.IsRunFatal(err) {
					yield(connectors.RawItem{}, err)
					return
				}
				if !yield(connectors.RawItem{}, fmt.Errorf("%w: file %s: %v", connectors.ErrItemMalformed, id, err)) {
					return
				}
				continue
			}
			if f.MimeType == mimeFolder || f.Size > maxFileBytes {
				continue
			}
			seen[f.Id] = true
			if !yield(itemFromFile(f), nil) {
				return
			}
		}
		if len(a.cfg.Files) > 0 && len(a.cfg.Folders) == 0 {
			return
		}

		pageToken := ""
		for {
			var page *drive.FileList
			err := googleauth.Do(ctx, func() error {
				var opErr error
				page, opErr = a.svc.Files.List().
					Q(query).
					PageSize(listPageSize).
					Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
					PageToken(pageToken).
					Context(ctx).
					Do()
				return opErr
			})
			if err != nil {
				yield(connectors.RawItem{}, fmt.Errorf("list drive files: %w", err))
				return
			}

			for _, f := range page.Files {
				if seen[f.Id] || f.MimeType == mimeFolder {
					continue
				}
				if f.Size > maxFileBytes {
					a.logger.Warn("skipping oversized file", "file", f.Id, "name", f.Name, "bytes", f.Size)
					continue
				}
				if !yield(itemFromFile(f), nil) {
					return
				}
			}

			pageToken = page.NextPageToken
			if pageToken == "" {
				return
			}
		}
	}, nil
}

// ListDelta pulls the Changes feed. An empty cursor bootstraps: it returns
// no changes and the current start token, so the caller's full scan pairs
// with a baseline for the next run.
func (a *Adapter) ListDelta(ctx context.Context, cursor string) ([]connectors.Change, string, error) {
	if cursor == "" {
		var start *drive.StartPageToken
		err := googleauth.Do(ctx, func() error {
			var opErr error
			start, opErr = a.svc.Changes.GetStartPageToken().Context(ctx).Do()
			return opErr
		})
		if err != nil {
			return nil, "", fmt.Errorf("get start page token: %w", err)
		}
		return nil, start.StartPageToken, nil
	}

	var changes []connectors.Change
	pageToken := cursor
	for {
		var page *drive.ChangeList
		err := googleauth.Do(ctx, func() error {
			var opErr error
			page, opErr = a.svc.Changes.List(pageToken).
				Fields(googleapi.Field("nextPageToken, newStartPageToken, changes(fileId, removed, file(" + fileFields + "))")).
				PageSize(listPageSize).
				Context(ctx).
				Do()
			return opErr
		})
		if err != nil {
			if isCursorError(err) {
				return nil, "", fmt.Errorf("%w: %v", connectors.ErrCursorInvalid, err)
			}
			return nil, "", fmt.Errorf("list drive changes: %w", err)
		}

		for _, ch := range page.Changes {
			change, ok := changeFromDrive(ch)
			if ok {
				changes = append(changes, change)
			}
		}

		if page.NewStartPageToken != "" {
			return changes, page.NewStartPageToken, nil
		}
		if page.NextPageToken == "" {
			return changes, pageToken, nil
		}
		pageToken = page.NextPageToken
	}
}

func changeFromDrive(ch *drive.Change) (connectors.Change, bool) {
	if ch.Removed || (ch.File != nil && ch.File.Trashed) {
		return connectors.Change{Kind: connectors.ChangeRemoved, SourceID: ch.FileId}, true
	}
	if ch.File == nil || ch.File.MimeType == mimeFolder {
		return connectors.Change{}, false
	}
	item := itemFromFile(ch.File)
	return connectors.Change{Kind: connectors.ChangeUpdated, SourceID: ch.FileId, Item: &item}, true
}

// FetchContent downloads or exports one file and converts it to text.
func (a *Adapter) FetchContent(ctx context.Context, sourceID string, hint connectors.FetchHint) (string, error) {
	mimeType := hint.MimeType
	name := hint.Title
	if mimeType == "" {
		var meta *drive.File
		err := googleauth.Do(ctx, func() error {
			var opErr error
			meta, opErr = a.svc.Files.Get(sourceID).Fields("id, name, mimeType").Context(ctx).Do()
			return opErr
		})
		if err != nil {
			return "", fmt.Errorf("stat file %s: %w", sourceID, err)
		}
		mimeType = meta.MimeType
		name = meta.Name
	}

	if exportMime, ok := exportFormats[mimeType]; ok {
		return a.exportText(ctx, sourceID, exportMime)
	}
	if strings.HasPrefix(mimeType, "application/vnd.google-apps.") {
		return "", fmt.Errorf("%w: no export format for %s (%s)", connectors.ErrItemMalformed, sourceID, mimeType)
	}

	data, err := a.download(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if etl.IsTextMIME(mimeType) {
		text := etl.DecodeText(data)
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%w: %s decoded to empty text", connectors.ErrEtlFailed, sourceID)
		}
		return text, nil
	}
	if a.etl == nil {
		return "", fmt.Errorf("%w: no extraction service configured for %s (%s)", connectors.ErrEtlFailed, sourceID, mimeType)
	}
	text, err := a.etl.Convert(ctx, etl.File{Name: name, MimeType: mimeType, Data: data})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", connectors.ErrEtlFailed, sourceID, err)
	}
	return text, nil
}

func (a *Adapter) exportText(ctx context.Context, sourceID, exportMime string) (string, error) {
	var text string
	err := googleauth.Do(ctx, func() error {
		resp, opErr := a.svc.Files.Export(sourceID, exportMime).Context(ctx).Download()
		if opErr != nil {
			return opErr
		}
		defer resp.Body.Close()
		data, opErr := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
		if opErr != nil {
			return opErr
		}
		text = etl.DecodeText(data)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("export %s as %s: %w", sourceID, exportMime, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: export of %s came back empty", connectors.ErrEtlFailed, sourceID)
	}
	return text, nil
}

func (a *Adapter) download(ctx context.Context, sourceID string) ([]byte, error) {
	var data []byte
	err := googleauth.Do(ctx, func() error {
		resp, opErr := a.svc.Files.Get(sourceID).Context(ctx).Download()
		if opErr != nil {
			return opErr
		}
		defer resp.Body.Close()
		data, opErr = io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", sourceID, err)
	}
	return data, nil
}

func itemFromFile(f *drive.File) connectors.RawItem {
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return connectors.RawItem{
		SourceID: f.Id,
		Title:    f.Name,
		URL:      f.WebViewLink,
		MimeType: f.MimeType,
		Metadata: map[string]interface{}{
			"file_name": f.Name,
			"mime_type": f.MimeType,
			"url":       f.WebViewLink,
		},
		ModifiedAt: modified.UTC(),
	}
}

// buildQuery assembles the Drive search expression for a full scan.
func buildQuery(folders []string, win connectors.Window) string {
	terms := []string{
		"trashed = false",
		fmt.Sprintf("mimeType != '%s'", mimeFolder),
	}
	if !win.Start.IsZero() {
		terms = append(terms, fmt.Sprintf("modifiedTime > '%s'", win.Start.UTC().Format(time.RFC3339)))
	}
	if !win.End.IsZero() {
		terms = append(terms, fmt.Sprintf("modifiedTime < '%s'", win.End.UTC().Format(time.RFC3339)))
	}
	if len(folders) > 0 {
		parents := make([]string, 0, len(folders))
		for _, id := range folders {
			parents = append(parents, fmt.Sprintf("'%s' in parents", sanitizeFolderID(id)))
		}
		terms = append(terms, "("+strings.Join(parents, " or ")+")")
	}
	return strings.Join(terms, " and ")
}

// sanitizeFolderID strips quote characters so ids cannot break out of the
// query expression.
func sanitizeFolderID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '\'' || r == '\\' {
			return -1
		}
		return r
	}, id)
}

// isCursorError reports whether the API rejected the stored page token.
func isCursorError(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusGone {
		return true
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(gerr.Message), "page token")
}
