// SPDX-License-Identifier: MPL-2.0

// Package metadata models the deployment metadata records published for a
// stage and resolves the record that describes the site deployed from the
// current working directory.
//
// Records are read from a Source (a local directory of stack files or an S3
// bucket). Resolver polls its Source on a fixed interval until a matching
// record appears, and rejects records whose shape predates the fields this
// tool depends on with ErrOutdatedMetadata.
package metadata
