// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"log/slog"

	"github.com/stackbind/stackbind/internal/bus"
)

// Attach subscribes r to the bus topics it reacts to and returns a function
// removing the subscriptions.
func Attach(b *bus.Bus, r *Reconciler) (detach func()) {
	unsubs := []func(){
		b.Subscribe(bus.TopicMetadataUpdated, func(bus.Event) {
			r.Notify(Trigger{Kind: TriggerMetadataUpdated})
		}),
		b.Subscribe(bus.TopicMetadataDeleted, func(bus.Event) {
			r.Notify(Trigger{Kind: TriggerMetadataDeleted})
		}),
		b.Subscribe(bus.TopicSecretUpdated, func(e bus.Event) {
			name, err := e.SecretName()
			if err != nil || name == "" {
				slog.Warn("ignoring malformed secret event", "payload", string(e.Payload), "error", err)
				return
			}
			r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: name})
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
