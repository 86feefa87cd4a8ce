package extension

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jobrunner/tilework/internal/domain"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extension.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return "file://" + filepath.ToSlash(path)
}

func TestLoader_ImportFile(t *testing.T) {
	l := NewLoader(Config{}, testCatalog(), testLogger())
	reg := newMockRegistry()

	url := writeManifest(t, `
name: pack
source_types:
  - name: terrain-vector
    use: vector
text_shaping_plugin: bidi
`)
	if err := l.Import(context.Background(), url, reg); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if _, ok := reg.types["terrain-vector"]; !ok {
		t.Error("terrain-vector should be registered")
	}
	if reg.plugin == nil || reg.plugin.Name() != "bidi" {
		t.Errorf("plugin = %v, want bidi", reg.plugin)
	}

	// Importing again collides with the write-once registrations.
	err := l.Import(context.Background(), url, reg)
	var ierr *domain.ImportError
	if !errors.As(err, &ierr) || !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("second Import() error = %v, want ImportError wrapping ErrAlreadyRegistered", err)
	}
}

func TestLoader_UsesRegisteredType(t *testing.T) {
	l := NewLoader(Config{}, testCatalog(), testLogger())
	reg := newMockRegistry()
	_ = reg.RegisterSourceType("custom", nopFactory)

	url := writeManifest(t, "source_types:\n  - {name: custom-alias, use: custom}\n")
	if err := l.Import(context.Background(), url, reg); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if _, ok := reg.types["custom-alias"]; !ok {
		t.Error("alias of a registered type should be registered")
	}
}

func TestLoader_ImportHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ext.yaml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("source_types:\n  - {name: remote, use: geojson}\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := NewLoader(Config{}, testCatalog(), testLogger())
	reg := newMockRegistry()

	if err := l.Import(context.Background(), srv.URL+"/ext.yaml", reg); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if _, ok := reg.types["remote"]; !ok {
		t.Error("remote should be registered")
	}

	err := l.Import(context.Background(), srv.URL+"/missing.yaml", reg)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Import(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		url     func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "scheme not allowed",
			cfg:     Config{AllowedSchemes: []string{"https"}},
			url:     func(t *testing.T) string { return writeManifest(t, "text_shaping_plugin: bidi\n") },
			wantErr: domain.ErrUnsupported,
		},
		{
			name:    "missing file",
			url:     func(t *testing.T) string { return "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "none.yaml")) },
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "unknown implementation",
			url:     func(t *testing.T) string { return writeManifest(t, "source_types:\n  - {name: a, use: webgl}\n") },
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "unknown plugin",
			url:     func(t *testing.T) string { return writeManifest(t, "text_shaping_plugin: harfbuzz\n") },
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "invalid manifest",
			url:     func(t *testing.T) string { return writeManifest(t, "bogus: true\n") },
			wantErr: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(tt.cfg, testCatalog(), testLogger())
			reg := newMockRegistry()

			err := l.Import(context.Background(), tt.url(t), reg)
			var ierr *domain.ImportError
			if !errors.As(err, &ierr) {
				t.Fatalf("error should be an ImportError, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Import() error = %v, want %v", err, tt.wantErr)
			}
			if len(reg.types) != 0 || reg.plugin != nil {
				t.Error("nothing should be registered on failure")
			}
		})
	}
}

func TestLoader_ConflictRegistersNothing(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		prepare  func(reg *mockRegistry)
		wantErr  error
		wantType []domain.SourceType
	}{
		{
			name:     "second source type taken",
			manifest: "source_types:\n  - {name: fresh, use: vector}\n  - {name: taken, use: geojson}\n",
			prepare:  func(reg *mockRegistry) { reg.types["taken"] = nopFactory },
			wantErr:  domain.ErrAlreadyRegistered,
			wantType: []domain.SourceType{"taken"},
		},
		{
			name:     "plugin already installed",
			manifest: "source_types:\n  - {name: fresh, use: vector}\ntext_shaping_plugin: bidi\n",
			prepare:  func(reg *mockRegistry) { reg.plugin = upperShaper{} },
			wantErr:  domain.ErrAlreadyRegistered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(Config{}, testCatalog(), testLogger())
			reg := newMockRegistry()
			tt.prepare(reg)

			err := l.Import(context.Background(), writeManifest(t, tt.manifest), reg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Import() error = %v, want %v", err, tt.wantErr)
			}
			if _, ok := reg.types["fresh"]; ok {
				t.Error("no source type should be registered when the import fails")
			}
			if len(reg.types) != len(tt.wantType) {
				t.Errorf("registered types = %d, want %d", len(reg.types), len(tt.wantType))
			}
		})
	}
}

func TestLoader_LinkShaper(t *testing.T) {
	l := NewLoader(Config{}, testCatalog(), testLogger())
	l.LinkShaper(upperShaper{})
	reg := newMockRegistry()

	if err := l.Import(context.Background(), writeManifest(t, "text_shaping_plugin: upper\n"), reg); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if reg.plugin.Shape("ab") != "AB" {
		t.Error("linked shaper should be registered")
	}
}

type upperShaper struct{}

func (upperShaper) Name() string { return "upper" }

func (upperShaper) Shape(text string) string {
	b := []byte(text)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
