// SPDX-License-Identifier: MPL-2.0

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stackbind/stackbind/internal/metadata"
	"github.com/stackbind/stackbind/internal/watch"
)

// DirFeed publishes metadata events for changes to stack files in a local
// metadata directory.
type DirFeed struct {
	Dir      string
	Bus      *Bus
	Debounce time.Duration
}

// Run creates the directory when missing and watches it until ctx is done.
func (f *DirFeed) Run(ctx context.Context) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	w, err := watch.New(watch.Config{
		BaseDir:  f.Dir,
		Patterns: []string{"*.json"},
		Debounce: f.Debounce,
		OnChange: f.onChange,
		Logger:   slog.Default().With("feed", "dir"),
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func (f *DirFeed) onChange(_ context.Context, changes []watch.Change) error {
	for _, c := range changes {
		topic := TopicMetadataUpdated
		if c.Removed {
			topic = TopicMetadataDeleted
		}
		evt, err := NewEvent(topic, StackPayload{Stack: metadata.StackNameFromFile(c.Path)})
		if err != nil {
			return err
		}
		f.Bus.Publish(evt)
	}
	return nil
}
