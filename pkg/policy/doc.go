// Package policy provides Open Policy Agent (OPA) based target exclusion
// for OpenBex.
//
// Policies are Rego modules whose "skip" rules return human-readable
// reasons for excluding a target from convergence. A target is excluded
// when any enabled policy produces at least one reason; the reason is
// persisted on the target's reconciliation record.
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a target:
//
//	reason, err := eng.EvaluateTarget(ctx, target)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if reason != "" {
//	    // target is excluded from convergence
//	}
//
// Loading custom policies:
//
//	err = eng.LoadPolicies(ctx, []string{"/etc/openbex/policies"})
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. unsupported-offer - Excludes targets whose offer type cannot host exports
//  2. inactive-target - Excludes disabled or deleted targets
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.targets
//
//	import rego.v1
//
//	skip contains reason if {
//	    input.target.attributes.environment == "sandbox"
//	    reason := "sandbox targets are not exported"
//	}
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are compiled once and reused for every target. The engine uses
// OPA's PreparedEvalQuery, so per-target evaluation is a cheap in-memory
// query.
package policy
