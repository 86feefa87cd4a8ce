package picker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jobrunner/tilework/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readPicked(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestStaticPicker(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "region.db", "sqlite")

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "file", path: file},
		{name: "directory lookup", path: dir},
		{name: "missing", path: filepath.Join(dir, "missing.db"), wantErr: domain.ErrDatabaseNotFound},
		{name: "not configured", path: "", wantErr: ErrSelectionCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewStaticPicker(tt.path).Pick(context.Background(), "region.db")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Pick() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Pick() error = %v", err)
			}
			if f.Name != "region.db" || f.Size != 6 {
				t.Errorf("picked = %+v", f)
			}
			if got := readPicked(t, f.Reader); got != "sqlite" {
				t.Errorf("content = %q", got)
			}
		})
	}
}

func TestTerminalPicker(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "download.mbtiles", "tiles")

	var out bytes.Buffer
	p := NewTerminalPicker(strings.NewReader(file+"\n\n"), &out)

	f, err := p.Pick(context.Background(), "region.db")
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got := readPicked(t, f.Reader); got != "tiles" {
		t.Errorf("content = %q", got)
	}
	if !strings.Contains(out.String(), "region.db") {
		t.Errorf("prompt = %q, should name the database", out.String())
	}

	if _, err := p.Pick(context.Background(), "region.db"); !errors.Is(err, ErrSelectionCanceled) {
		t.Errorf("empty answer error = %v, want ErrSelectionCanceled", err)
	}
	if _, err := p.Pick(context.Background(), "region.db"); !errors.Is(err, ErrSelectionCanceled) {
		t.Errorf("closed input error = %v, want ErrSelectionCanceled", err)
	}
}

func TestTerminalPicker_Directory(t *testing.T) {
	p := NewTerminalPicker(strings.NewReader(t.TempDir()+"\n"), io.Discard)
	if _, err := p.Pick(context.Background(), "a.db"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Pick(dir) error = %v, want ErrInvalidInput", err)
	}
}
