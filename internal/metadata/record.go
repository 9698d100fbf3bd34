// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

const (
	// KindStatic is a static asset site; its environment is fixed at deploy time.
	KindStatic Kind = "StaticSite"
	// KindNextjs is a server-rendered Next.js site.
	KindNextjs Kind = "NextjsSite"
	// KindAstro is a server-rendered Astro site.
	KindAstro Kind = "AstroSite"
	// KindRemix is a server-rendered Remix site.
	KindRemix Kind = "RemixSite"
	// KindSolidStart is a server-rendered SolidStart site.
	KindSolidStart Kind = "SolidStartSite"
	// KindSvelteKit is a server-rendered SvelteKit site.
	KindSvelteKit Kind = "SvelteKitSite"
)

var (
	// ErrNotYetAvailable is returned while no record matches the working
	// directory. It is retried by the Resolver and never shown as an error.
	ErrNotYetAvailable = errors.New("site metadata not available yet")

	// ErrOutdatedMetadata is returned when a matching record is missing
	// fields required for its kind. Retrying cannot fix it.
	ErrOutdatedMetadata = errors.New("site metadata is outdated")
)

type (
	// Kind is the type tag of a metadata record.
	Kind string

	// Record is the wire form of one resource entry in a stack file.
	Record struct {
		Type Kind       `json:"type"`
		ID   string     `json:"id"`
		Data RecordData `json:"data"`
	}

	// RecordData holds the kind-specific fields of a Record. Pointer and nil
	// values distinguish absent fields from empty ones.
	RecordData struct {
		Path        *string           `json:"path,omitempty"`
		Server      *string           `json:"server,omitempty"`
		Secrets     []string          `json:"secrets,omitempty"`
		Environment map[string]string `json:"environment,omitempty"`
	}

	// Resource is a validated site record.
	Resource struct {
		Kind  Kind
		ID    string
		Stack string
		// Path is the site directory relative to the project root.
		Path string
		// Environment is set for static sites only.
		Environment map[string]string
		// Server is the function identifier of a server-rendered site.
		Server string
		// Secrets lists secret names the server-rendered site is bound to.
		Secrets []string
	}

	// OutdatedError reports which field of which record is missing.
	// It wraps ErrOutdatedMetadata.
	OutdatedError struct {
		Stack string
		ID    string
		Kind  Kind
		Field string
	}
)

// Error implements the error interface.
func (e *OutdatedError) Error() string {
	return fmt.Sprintf("%s record %q in stack %q has no %s", e.Kind, e.ID, e.Stack, e.Field)
}

// Unwrap returns ErrOutdatedMetadata so callers can use errors.Is.
func (e *OutdatedError) Unwrap() error { return ErrOutdatedMetadata }

// IsSite reports whether k is one of the recognized site kinds.
func (k Kind) IsSite() bool {
	return k == KindStatic || k.IsServerRendered()
}

// IsServerRendered reports whether k is backed by a server function.
func (k Kind) IsServerRendered() bool {
	switch k {
	case KindNextjs, KindAstro, KindRemix, KindSolidStart, KindSvelteKit:
		return true
	default:
		return false
	}
}

// Validate converts the record into a Resource, or returns an *OutdatedError
// when a required field for its kind is absent.
func (r Record) Validate(stack string) (Resource, error) {
	if !r.Type.IsSite() {
		return Resource{}, fmt.Errorf("record %q: unsupported type %q", r.ID, r.Type)
	}
	outdated := func(field string) error {
		return &OutdatedError{Stack: stack, ID: r.ID, Kind: r.Type, Field: field}
	}

	if r.Data.Path == nil {
		return Resource{}, outdated("data.path")
	}
	res := Resource{
		Kind:  r.Type,
		ID:    r.ID,
		Stack: stack,
		Path:  *r.Data.Path,
	}

	if r.Type.IsServerRendered() {
		if r.Data.Server == nil || *r.Data.Server == "" {
			return Resource{}, outdated("data.server")
		}
		res.Server = *r.Data.Server
		res.Secrets = slices.Clone(r.Data.Secrets)
		return res, nil
	}

	if r.Data.Environment == nil {
		return Resource{}, outdated("data.environment")
	}
	res.Environment = maps.Clone(r.Data.Environment)
	return res, nil
}

// HasSecret reports whether the resource is bound to the named secret.
func (r Resource) HasSecret(name string) bool {
	return slices.Contains(r.Secrets, name)
}
