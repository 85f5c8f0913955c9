package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sjawhar/salon-coach/internal/report"
)

const jsonMimeType = "application/json"

// Drive uploads reports into a Google Drive folder using a service account.
// A report archived twice replaces the earlier upload.
type Drive struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewDrive(ctx context.Context, credPath, folderID string) (*Drive, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return NewDriveWithOptions(ctx, folderID, option.WithCredentials(config))
}

// NewDriveWithOptions builds a Drive archiver from raw client options.
func NewDriveWithOptions(ctx context.Context, folderID string, opts ...option.ClientOption) (*Drive, error) {
	if folderID == "" {
		return nil, fmt.Errorf("create drive archiver: folder id is required")
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Drive{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

func (d *Drive) Archive(ctx context.Context, r report.Report) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	media := bytes.NewReader(data)
	if fileID, ok := d.fileIDs[r.SessionID]; ok {
		_, err = d.service.Files.Update(fileID, &drive.File{}).
			Media(media, googleapi.ContentType(jsonMimeType)).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("drive update %s: %w", r.SessionID, err)
		}
		return nil
	}

	file, err := d.service.Files.Create(&drive.File{
		Name:     FileName(r),
		MimeType: jsonMimeType,
		Parents:  []string{d.folderID},
	}).Media(media, googleapi.ContentType(jsonMimeType)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", r.SessionID, err)
	}

	d.fileIDs[r.SessionID] = file.Id
	return nil
}
