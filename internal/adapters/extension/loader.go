package extension

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// maxManifestBytes bounds a fetched manifest.
const maxManifestBytes = 1 << 20

// DefaultAllowedSchemes are the manifest url schemes accepted by default.
var DefaultAllowedSchemes = []string{"file", "https", "http"}

// Config holds loader configuration.
type Config struct {
	AllowedSchemes []string
	Timeout        time.Duration
}

// Loader implements output.ScriptImporter. A manifest links names to
// implementations compiled into the process.
type Loader struct {
	client  *http.Client
	schemes []string
	catalog map[string]output.SourceFactory
	shapers map[string]output.TextShaper
	logger  *slog.Logger
}

// NewLoader creates a loader over the given catalog of linkable source types.
// The built-in bidi shaper is always linkable.
func NewLoader(cfg Config, catalog map[string]output.SourceFactory, logger *slog.Logger) *Loader {
	if len(cfg.AllowedSchemes) == 0 {
		cfg.AllowedSchemes = DefaultAllowedSchemes
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	shaper := NewBidiShaper()
	return &Loader{
		client:  &http.Client{Timeout: cfg.Timeout},
		schemes: cfg.AllowedSchemes,
		catalog: catalog,
		shapers: map[string]output.TextShaper{shaper.Name(): shaper},
		logger:  logger,
	}
}

// LinkShaper makes an additional text shaping plugin linkable by name.
func (l *Loader) LinkShaper(shaper output.TextShaper) {
	l.shapers[shaper.Name()] = shaper
}

// Import fetches the manifest at rawURL and registers what it provides.
// All names are resolved and checked for conflicts before any source type
// is registered, so a rejected manifest leaves no source type behind.
func (l *Loader) Import(ctx context.Context, rawURL string, registry output.ExtensionRegistry) error {
	data, err := l.fetch(ctx, rawURL)
	if err != nil {
		return &domain.ImportError{URL: rawURL, Err: err}
	}

	m, err := ParseManifest(data)
	if err != nil {
		return &domain.ImportError{URL: rawURL, Err: err}
	}

	factories := make([]output.SourceFactory, len(m.SourceTypes))
	for i, st := range m.SourceTypes {
		factory, ok := l.catalog[st.Use]
		if !ok {
			factory, ok = registry.LookupSourceType(domain.SourceType(st.Use))
		}
		if !ok {
			return &domain.ImportError{URL: rawURL, Err: fmt.Errorf("implementation %q for source type %q: %w", st.Use, st.Name, domain.ErrNotFound)}
		}
		factories[i] = factory
	}
	for _, st := range m.SourceTypes {
		if _, taken := registry.LookupSourceType(domain.SourceType(st.Name)); taken {
			return &domain.ImportError{URL: rawURL, Err: fmt.Errorf("source type %q: %w", st.Name, domain.ErrAlreadyRegistered)}
		}
	}

	var shaper output.TextShaper
	if m.TextShapingPlugin != "" {
		var ok bool
		if shaper, ok = l.shapers[m.TextShapingPlugin]; !ok {
			return &domain.ImportError{URL: rawURL, Err: fmt.Errorf("text shaping plugin %q: %w", m.TextShapingPlugin, domain.ErrNotFound)}
		}
	}

	// The plugin goes first: its conflict cannot be checked up front.
	if shaper != nil {
		if err := registry.RegisterTextShapingPlugin(shaper); err != nil {
			return &domain.ImportError{URL: rawURL, Err: err}
		}
		l.logger.Info("text shaping plugin registered", "plugin", shaper.Name(), "manifest", m.Name)
	}
	for i, st := range m.SourceTypes {
		if err := registry.RegisterSourceType(domain.SourceType(st.Name), factories[i]); err != nil {
			return &domain.ImportError{URL: rawURL, Err: err}
		}
		l.logger.Info("source type registered", "source_type", st.Name, "use", st.Use, "manifest", m.Name)
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || rawURL == "" {
		return nil, fmt.Errorf("invalid manifest url: %w", domain.ErrInvalidInput)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "file"
	}
	if !slices.Contains(l.schemes, scheme) {
		return nil, fmt.Errorf("scheme %q not allowed: %w", scheme, domain.ErrUnsupported)
	}

	if scheme == "file" {
		data, err := os.ReadFile(u.Path) //#nosec G304 -- manifest locations are operator supplied
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%s: %w", u.Path, domain.ErrNotFound)
			}
			return nil, fmt.Errorf("%v: %w", err, domain.ErrUnavailable)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidInput)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("HTTP 404: %w", domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
}
