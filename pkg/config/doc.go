// Package config provides CUE configuration parsing for OpenBex runs.
//
// # Overview
//
// A run configuration is a CUE file with a top-level run block. The block
// is unified with a built-in schema that supplies defaults and enforces
// constraints, so a minimal configuration needs only the provider name:
//
//	run: {
//	    provider: "azure"
//	}
//
// # Features
//
//   - CUE configuration parsing from files, directories, and inline content
//   - Built-in schema with defaults for every tunable
//   - Struct-level validation via go-playground/validator tags
//   - Error reporting with file locations and line numbers
//   - Unification of multiple sources into one run configuration
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//
//	run, err := parser.Load(ctx, []string{"openbex.cue"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	execCfg, err := run.ExecutorConfig(false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Durations are Go duration strings ("30s", "10m") and are parsed when the
// configuration is converted to engine settings, so a malformed value is
// reported before a run starts.
package config
