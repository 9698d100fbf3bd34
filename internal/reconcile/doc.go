// SPDX-License-Identifier: MPL-2.0

// Package reconcile keeps a supervised command bound to the live
// configuration of a deployed site.
//
// A Reconciler owns the bind session state: the current binding, the
// credential refresh timer and the supervised process. Triggers from the
// event bus, the refresh timer and startup are queued through Notify and
// handled one at a time by the goroutine running Run, so two passes never
// race to replace the process.
package reconcile
