package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates CUE run configuration files.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	// Schema and data values must share one CUE context to unify.
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: NewSchemaRegistry(ctx),
		validator:      validator.New(),
	}
}

// Load parses the given sources and returns the resolved run
// configuration, or an error describing the first batch of problems.
func (cp *CUEParser) Load(ctx context.Context, sources []string) (*RunConfig, error) {
	parsed, err := cp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}

	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("configuration invalid: %s", formatErrors(parsed.Errors))
	}

	return parsed.Run, nil
}

// Parse parses CUE configuration from the given sources. Parse and
// validation problems are collected into the returned ParsedConfig
// rather than aborting on the first one.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				cueValue = unifyValues(cueValue, val)
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				cueValue = unifyValues(cueValue, val)
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractConfig(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractConfig(val, []string{"inline"})
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractConfig extracts the run configuration from a CUE value: the
// user's run block is unified with the built-in schema so defaults and
// constraints apply, then decoded and validated.
func (cp *CUEParser) extractConfig(val cue.Value, sourceFiles []string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	runVal := val.LookupPath(cue.ParsePath("run"))
	if !runVal.Exists() {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "run",
			Message:  "missing run configuration block",
			Severity: "error",
		})
		return parsed, nil
	}

	schema, ok := cp.schemaRegistry.GetSchema("run")
	if !ok {
		return nil, fmt.Errorf("run schema not registered")
	}
	def := schema.LookupPath(cue.ParsePath("#Run"))

	unified := def.Unify(runVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		parsed.Errors = append(parsed.Errors, cp.convertCUEErrors(err)...)
		return parsed, nil
	}

	var run RunConfig
	if err := unified.Decode(&run); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "run",
			Message:  fmt.Sprintf("failed to decode run configuration: %v", err),
			Severity: "error",
		})
		return parsed, nil
	}

	if err := cp.validator.Struct(run); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "run",
			Message:  fmt.Sprintf("validation failed: %v", err),
			Severity: "error",
		})
		return parsed, nil
	}

	// Surface malformed durations at parse time instead of run start.
	if _, err := run.ExecutorConfig(false); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "run",
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed, nil
	}

	parsed.Run = &run
	return parsed, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

func unifyValues(base, next cue.Value) cue.Value {
	if !base.Exists() {
		return next
	}
	return base.Unify(next)
}

func formatErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	msg := errs[0].Message
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}
	return msg
}
