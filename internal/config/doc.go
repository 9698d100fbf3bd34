// SPDX-License-Identifier: MPL-2.0

// Package config loads the project configuration using Viper with CUE as the
// file format.
//
// The project file, stackbind.cue, is found by walking up from the working
// directory; the directory holding it is the project root. The file is
// validated against an embedded CUE schema (config_schema.cue), merged over
// defaults, and overridden by STACKBIND_* environment variables and command
// line flags, in that order.
package config
