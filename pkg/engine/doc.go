// Package engine implements the reconciliation core of OpenBex: enumerating
// billing-export provisioning targets and converging each one to its desired
// export configuration exactly once, despite delayed IAM propagation and
// per-target configuration variants.
//
// The run lifecycle is a fixed phase sequence executed by the PlanExecutor:
// Verify -> ProvisionSharedInfra -> ConvergeTargets -> ConfigureAutomation -> Validate.
// Targets converge independently inside ConvergeTargets; a single target's
// failure never aborts the run.
package engine
