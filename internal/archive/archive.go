// Package archive keeps copies of completed session reports outside the
// database: a dated directory tree on disk and, optionally, Google Drive.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sjawhar/salon-coach/internal/report"
)

// Target stores one report.
type Target interface {
	Archive(ctx context.Context, r report.Report) error
}

// FileName is the archived name of a report.
func FileName(r report.Report) string {
	return fmt.Sprintf("salon-coach-%s-%s.json", r.GeneratedAt.UTC().Format("2006-01-02"), r.SessionID)
}

// Encode renders a report the way it is archived.
func Encode(r report.Report) ([]byte, error) {
	if r.SessionID == "" {
		return nil, errors.New("encode report: session id is required")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report %s: %w", r.SessionID, err)
	}
	return append(data, '\n'), nil
}

// Dir writes reports under dir/<date>/.
type Dir struct {
	dir string
	mu  sync.Mutex
}

func NewDir(dir string) *Dir {
	return &Dir{dir: dir}
}

func (d *Dir) Archive(_ context.Context, r report.Report) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	day := filepath.Join(d.dir, r.GeneratedAt.UTC().Format("2006-01-02"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", day, err)
	}

	path := filepath.Join(day, FileName(r))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Path returns where a report is (or would be) archived.
func (d *Dir) Path(r report.Report) string {
	return filepath.Join(d.dir, r.GeneratedAt.UTC().Format("2006-01-02"), FileName(r))
}

// Multi archives to every target and joins their errors. A failing target
// does not stop the others.
type Multi []Target

func (m Multi) Archive(ctx context.Context, r report.Report) error {
	var errs []error
	for _, t := range m {
		if t == nil {
			continue
		}
		if err := t.Archive(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
