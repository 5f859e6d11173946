// Package watchlist loads the set of app IDs to poll. The file is re-read at
// the start of every cycle so edits take effect without a restart.
package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/steamwatch/internal/models"
)

var (
	// ErrNotFound is returned when the watchlist file does not exist.
	ErrNotFound = errors.New("watchlist file not found")
	// ErrEmpty is returned when the watchlist contains no app IDs.
	ErrEmpty = errors.New("watchlist is empty")
	// ErrInvalid is returned when the file cannot be parsed or holds bad IDs.
	ErrInvalid = errors.New("invalid watchlist")
)

// Source supplies the watchlist for one cycle.
type Source interface {
	Load() (models.Watchlist, error)
}

// FileSource reads the watchlist from a JSON or YAML file.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load() (models.Watchlist, error) {
	return Load(s.Path)
}

// Load reads and validates a watchlist file. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON.
func Load(path string) (models.Watchlist, error) {
	var w models.Watchlist

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return w, fmt.Errorf("read watchlist: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &w); err != nil {
			return w, fmt.Errorf("%w: parse yaml %s: %v", ErrInvalid, path, err)
		}
	default:
		if err := json.Unmarshal(data, &w); err != nil {
			return w, fmt.Errorf("%w: parse json %s: %v", ErrInvalid, path, err)
		}
	}

	if len(w.Games) == 0 {
		return w, fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	return w, nil
}
