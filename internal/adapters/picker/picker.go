// Package picker provides the operator file selection used to import databases
// into the sandboxed web storage root.
package picker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// ErrSelectionCanceled is returned when the operator picks no file.
var ErrSelectionCanceled = fmt.Errorf("file selection canceled: %w", domain.ErrUnavailable)

// StaticPicker selects a preconfigured file. If the path is a directory the
// database name is looked up inside it.
type StaticPicker struct {
	path string
}

// NewStaticPicker creates a picker over path.
func NewStaticPicker(path string) *StaticPicker {
	return &StaticPicker{path: path}
}

// Pick implements output.FilePicker.
func (p *StaticPicker) Pick(_ context.Context, name string) (*output.PickedFile, error) {
	if p.path == "" {
		return nil, ErrSelectionCanceled
	}
	path := p.path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, name)
	}
	return openPicked(path)
}

// TerminalPicker asks the operator for a file path on a terminal.
type TerminalPicker struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPicker creates a picker reading answers from in.
func NewTerminalPicker(in io.Reader, out io.Writer) *TerminalPicker {
	return &TerminalPicker{in: bufio.NewReader(in), out: out}
}

// Pick implements output.FilePicker. An empty answer cancels the selection.
func (p *TerminalPicker) Pick(ctx context.Context, name string) (*output.PickedFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(p.out, "Select the file to import as %s: ", name)

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	path := strings.TrimSpace(line)
	if path == "" {
		return nil, ErrSelectionCanceled
	}
	return openPicked(path)
}

func openPicked(path string) (*output.PickedFile, error) {
	f, err := os.Open(path) //#nosec G304 -- the operator chose this file
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrDatabaseNotFound)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory: %w", path, domain.ErrInvalidInput)
	}
	return &output.PickedFile{Name: info.Name(), Size: info.Size(), Reader: f}, nil
}
