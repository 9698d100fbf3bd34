// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the CLI commands for stackbind.
//
// The root command carries the global flags; 'bind' starts a session that
// keeps a local command bound to its deployed resource, with 'env' kept as a
// deprecated alias.
package cmd
