// SPDX-License-Identifier: MPL-2.0

package cloud

import "maps"

// Binding is the environment, role and secret set assembled for one
// reconciliation pass. Bindings are replaced wholesale, never mutated.
type Binding struct {
	Envs map[string]string
	// Role is the IAM role ARN to assume; empty for static sites.
	Role string
	// Secrets is the set of secret names the site is bound to.
	Secrets map[string]struct{}
}

// HasRole reports whether the binding carries a role to assume.
func (b Binding) HasRole() bool { return b.Role != "" }

// HasSecret reports whether name is one of the bound secrets.
func (b Binding) HasSecret(name string) bool {
	_, ok := b.Secrets[name]
	return ok
}

// AreEnvsSame reports whether a and b hold the same keys with the same
// values. Order is irrelevant; a nil map equals an empty one.
func AreEnvsSame(a, b map[string]string) bool {
	return maps.Equal(a, b)
}

func secretSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
