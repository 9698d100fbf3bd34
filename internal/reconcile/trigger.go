// SPDX-License-Identifier: MPL-2.0

package reconcile

import "fmt"

const (
	// TriggerInit starts the session.
	TriggerInit TriggerKind = iota
	// TriggerMetadataUpdated follows a deploy writing new metadata.
	TriggerMetadataUpdated
	// TriggerMetadataDeleted follows metadata being removed.
	TriggerMetadataDeleted
	// TriggerSecretsUpdated follows a secret change; Trigger.Secret names it.
	TriggerSecretsUpdated
	// TriggerIAMExpired fires shortly before assumed credentials expire.
	TriggerIAMExpired
)

type (
	// TriggerKind identifies why a pass runs.
	TriggerKind int

	// Trigger is one queued reason to reconcile. Triggers are comparable;
	// identical pending triggers are coalesced.
	Trigger struct {
		Kind TriggerKind
		// Secret is set for TriggerSecretsUpdated.
		Secret string
		// Generation tags TriggerIAMExpired with the timer that fired it.
		Generation uint64
	}
)

// String returns the wire-style name of the trigger kind.
func (k TriggerKind) String() string {
	switch k {
	case TriggerInit:
		return "init"
	case TriggerMetadataUpdated:
		return "metadata_updated"
	case TriggerMetadataDeleted:
		return "metadata_deleted"
	case TriggerSecretsUpdated:
		return "secrets_updated"
	case TriggerIAMExpired:
		return "iam_expired"
	default:
		return fmt.Sprintf("trigger(%d)", int(k))
	}
}

func (t Trigger) String() string {
	if t.Kind == TriggerSecretsUpdated {
		return fmt.Sprintf("%s(%s)", t.Kind, t.Secret)
	}
	return t.Kind.String()
}

// reason describes the trigger in a restart notice.
func (t Trigger) reason() string {
	switch t.Kind {
	case TriggerMetadataUpdated:
		return "deployment changed the environment"
	case TriggerMetadataDeleted:
		return "deployment metadata was removed"
	case TriggerSecretsUpdated:
		return fmt.Sprintf("secret %s was updated", t.Secret)
	case TriggerIAMExpired:
		return "credentials are about to expire"
	default:
		return t.String()
	}
}
