// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPollInterval is the fixed delay between lookups while no record
// matches the working directory.
const DefaultPollInterval = time.Second

type (
	// Waiter renders the "waiting for deployment" indicator. Waiting is called
	// once after the first miss; Done is called once the wait ends.
	Waiter interface {
		Waiting(path string)
		Done()
	}

	// Resolver finds the site record deployed from a directory.
	Resolver struct {
		source Source
		root   string
		// Interval is the poll interval; DefaultPollInterval when zero.
		Interval time.Duration
		// Waiter is optional.
		Waiter Waiter
	}
)

// NewResolver creates a Resolver that matches record paths relative to
// projectRoot.
func NewResolver(source Source, projectRoot string) *Resolver {
	return &Resolver{source: source, root: projectRoot}
}

// Resolve polls the source until a record matches dir. It returns
// ErrOutdatedMetadata (wrapped in *OutdatedError) without retrying, and
// ctx.Err() if the context ends first.
func (r *Resolver) Resolve(ctx context.Context, dir string) (Resource, error) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	target := filepath.Clean(dir)

	waiting := false
	defer func() {
		if waiting && r.Waiter != nil {
			r.Waiter.Done()
		}
	}()

	op := func() (Resource, error) {
		res, err := r.lookup(ctx, target)
		if errors.Is(err, ErrOutdatedMetadata) {
			return Resource{}, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, _ time.Duration) {
		if !errors.Is(err, ErrNotYetAvailable) {
			slog.Debug("metadata lookup failed, retrying", "error", err)
		}
		if !waiting {
			waiting = true
			if r.Waiter != nil {
				r.Waiter.Waiting(target)
			}
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	return backoff.RetryNotifyWithData(op, b, notify)
}

// Lookup performs a single lookup without polling.
func (r *Resolver) Lookup(ctx context.Context, dir string) (Resource, error) {
	return r.lookup(ctx, filepath.Clean(dir))
}

func (r *Resolver) lookup(ctx context.Context, target string) (Resource, error) {
	stacks, err := r.source.FetchAll(ctx)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %w", ErrNotYetAvailable, err)
	}

	names := make([]string, 0, len(stacks))
	for name := range stacks {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, stack := range names {
		for _, rec := range stacks[stack] {
			if !rec.Type.IsSite() {
				continue
			}
			// Without a path the record cannot be ruled out as ours.
			if rec.Data.Path == nil {
				return Resource{}, &OutdatedError{Stack: stack, ID: rec.ID, Kind: rec.Type, Field: "data.path"}
			}
			if r.sitePath(*rec.Data.Path) != target {
				continue
			}
			return rec.Validate(stack)
		}
	}
	return Resource{}, ErrNotYetAvailable
}

// sitePath resolves a record path against the project root.
func (r *Resolver) sitePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(r.root, p))
}
