// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints. The issue catalog maps well-known failure classes of a
// bind session (missing command, outdated deployment metadata, unusable
// metadata source, broken project config) to Markdown help pages rendered
// with glamour.
package issue
