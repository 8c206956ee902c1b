package tools

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"

	apperrors "coyote/backend/pkg/errors"
)

// DriveExecutor implements the drive_* tools
type DriveExecutor struct {
	service *drive.Service
}

// NewDriveExecutor creates a Drive executor
func NewDriveExecutor(service *drive.Service) *DriveExecutor {
	return &DriveExecutor{service: service}
}

// Available reports whether the Drive client is configured
func (d *DriveExecutor) Available(ctx context.Context) bool {
	return d.service != nil
}

// FileSummary is the compact view of one Drive file
type FileSummary struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Modified string `json:"modified"`
	Link     string `json:"link,omitempty"`
}

// FileList is the result of a search or recent listing
type FileList struct {
	Count int           `json:"count"`
	Files []FileSummary `json:"files"`
}

// Search matches file names and full text
func (d *DriveExecutor) Search(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	term := strings.TrimSpace(stringArg(args, "query", ""))
	if term == "" {
		return nil, apperrors.NewToolInvalidArguments(ToolDriveSearch, "query must not be empty")
	}

	escaped := escapeDriveQuery(term)
	q := fmt.Sprintf("(name contains '%s' or fullText contains '%s') and trashed = false", escaped, escaped)

	files, err := d.service.Files.List().
		Q(q).
		Spaces("drive").
		Fields("files(id, name, mimeType, modifiedTime, webViewLink)").
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return nil, upstreamFailure(ToolDriveSearch, err)
	}

	result := &FileList{Files: make([]FileSummary, 0, len(files.Files))}
	for _, f := range files.Files {
		result.Files = append(result.Files, FileSummary{
			ID:       f.Id,
			Name:     f.Name,
			Type:     shortMimeType(f.MimeType),
			Modified: clip(f.ModifiedTime, 10),
			Link:     f.WebViewLink,
		})
	}
	result.Count = len(result.Files)
	return result, nil
}

// Recent lists the most recently modified files
func (d *DriveExecutor) Recent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	count := intArg(args, "count", 10)
	if count < 1 || count > 50 {
		return nil, apperrors.NewToolInvalidArguments(ToolDriveRecent, "count must be between 1 and 50")
	}

	files, err := d.service.Files.List().
		Q("trashed = false").
		OrderBy("modifiedTime desc").
		Fields("files(id, name, mimeType, modifiedTime)").
		PageSize(int64(count)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, upstreamFailure(ToolDriveRecent, err)
	}

	result := &FileList{Files: make([]FileSummary, 0, len(files.Files))}
	for _, f := range files.Files {
		result.Files = append(result.Files, FileSummary{
			Name:     f.Name,
			Modified: clip(f.ModifiedTime, 10),
		})
	}
	result.Count = len(result.Files)
	return result, nil
}

// escapeDriveQuery escapes a term for a single-quoted Drive query literal
func escapeDriveQuery(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	return strings.ReplaceAll(term, `'`, `\'`)
}

// shortMimeType keeps the last dotted segment: "application/vnd.google-apps.document" -> "document"
func shortMimeType(mimeType string) string {
	if i := strings.LastIndex(mimeType, "."); i >= 0 {
		return mimeType[i+1:]
	}
	return mimeType
}
