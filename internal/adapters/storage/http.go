package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobrunner/tilework/internal/ports/output"
)

// HTTPStorage serves bundled databases from a web server. Available databases
// are listed in an index file, one key per line.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List returns the database files named in the index file.
func (s *HTTPStorage) List(ctx context.Context) ([]output.Asset, error) {
	body, err := s.get(ctx, http.MethodGet, s.indexFile)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	var objects []output.Asset
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !IsDatabaseFile(line) {
			continue
		}
		objects = append(objects, output.Asset{Key: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, storageError("list", s.indexFile, err, false)
	}

	return objects, nil
}

// Download copies a remote file to dest.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.get(ctx, http.MethodGet, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := writeObject(dest, body); err != nil {
		return storageError("download", key, err, false)
	}
	return nil
}

// GetReader returns a reader for the given file.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, http.MethodGet, key)
}

// Exists checks if a file exists via a HEAD request.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	body, err := s.get(ctx, http.MethodHead, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_ = body.Close()
	return true, nil
}

func (s *HTTPStorage) get(ctx context.Context, method, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/"+key, nil)
	if err != nil {
		return nil, storageError(strings.ToLower(method), key, err, false)
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, storageError(strings.ToLower(method), key, err, false)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, storageError(strings.ToLower(method), key,
			fmt.Errorf("HTTP %d", resp.StatusCode), resp.StatusCode == http.StatusNotFound)
	}
	return resp.Body, nil
}
