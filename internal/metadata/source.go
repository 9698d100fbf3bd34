// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const stackFileExt = ".json"

type (
	// Source returns every stack's metadata records for the current stage,
	// keyed by stack name.
	Source interface {
		FetchAll(ctx context.Context) (map[string][]Record, error)
	}

	// DirSource reads stack files from a local directory. Each "<stack>.json"
	// file holds a JSON array of records.
	DirSource struct {
		Dir string
	}
)

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

// FetchAll reads every stack file in the directory. A missing directory is
// an empty result: nothing has been deployed yet.
func (s *DirSource) FetchAll(ctx context.Context) (map[string][]Record, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string][]Record{}, nil
		}
		return nil, fmt.Errorf("read metadata directory %q: %w", s.Dir, err)
	}

	out := make(map[string][]Record, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), stackFileExt) {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			// Deploy tooling may remove a file between ReadDir and Open.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("open stack file %q: %w", path, err)
		}
		records, err := decodeStack(f)
		f.Close() //nolint:errcheck // read-only handle
		if err != nil {
			return nil, fmt.Errorf("decode stack file %q: %w", path, err)
		}
		out[StackNameFromFile(entry.Name())] = records
	}
	return out, nil
}

// StackNameFromFile derives a stack name from a stack file name, accepting
// both "<stack>.json" and "stack.<stack>.json".
func StackNameFromFile(name string) string {
	name = strings.TrimSuffix(filepath.Base(name), stackFileExt)
	return strings.TrimPrefix(name, "stack.")
}

func decodeStack(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
