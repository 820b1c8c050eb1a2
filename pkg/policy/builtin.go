package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		unsupportedOfferPolicy(),
		inactiveTargetPolicy(),
	}
}

// unsupportedOfferPolicy excludes targets whose commercial offer type
// cannot host billing export resources.
func unsupportedOfferPolicy() Policy {
	return Policy{
		Name:        "unsupported-offer",
		Description: "Excludes targets whose offer type does not support billing exports",
		Enabled:     true,
		Tags:        []string{"billing", "offers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openbex.targets.offers

import rego.v1

# Offer types on which the billing API rejects export creation outright.
# Probing them wastes a full propagation wait per target per run.
unsupported_offers := {
	"sponsorship",
	"internal-trial",
	"academic-grant",
}

skip contains reason if {
	offer := input.target.attributes.offer_type
	unsupported_offers[offer]
	reason := sprintf("offer type %s does not support billing exports", [offer])
}
`,
	}
}

// inactiveTargetPolicy excludes disabled or deleted targets.
func inactiveTargetPolicy() Policy {
	return Policy{
		Name:        "inactive-target",
		Description: "Excludes targets that are disabled or pending deletion",
		Enabled:     true,
		Tags:        []string{"lifecycle"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openbex.targets.lifecycle

import rego.v1

inactive_states := {"disabled", "deleted", "suspended"}

skip contains reason if {
	state := input.target.attributes.state
	inactive_states[state]
	reason := sprintf("target is %s", [state])
}
`,
	}
}
