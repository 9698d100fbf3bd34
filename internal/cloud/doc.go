// SPDX-License-Identifier: MPL-2.0

// Package cloud talks to the cloud control plane on behalf of a bind session.
//
// Assembler turns a validated site record into a Binding: the static
// environment of a static site, or the live environment and execution role of
// a server-rendered site's function. Broker turns a role into temporary
// credentials, trying the longest session first and falling back to one hour
// when the role's policy caps the duration, and resolves the ambient local
// credentials used when no role applies.
package cloud
