package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/orchestra/internal/compiler"
	"github.com/roach88/orchestra/internal/ir"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No plan files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoPlan      = "E008" // No plan, or an ambiguous plan selection
	ErrCodeDatabase    = "E009" // Database open or query failed
	ErrCodeEngine      = "E010" // Engine rejected the operation

	// Plan compile errors
	ErrCodeStart    = "E120" // Missing or unknown starting node
	ErrCodeNodes    = "E121" // Missing nodes or invalid node
	ErrCodeStepType = "E122" // Missing step type
	ErrCodeAdviser  = "E123" // Invalid adviser entry
	ErrCodeFacil    = "E124" // Unknown facilitator
)

// LoadError represents an error that occurred while loading a plan.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPlan loads a plan from a YAML file, a CUE file or a directory of CUE
// files. CUE sources must declare plans under the top-level "plan" struct;
// name selects one of them and may be empty when exactly one is declared.
func LoadPlan(path, name string) (*ir.Plan, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("plan path not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing plan path: %v", err)}
	}

	switch {
	case !info.IsDir() && isYAML(path):
		p, err := compiler.LoadPlanYAMLFile(path)
		if err != nil {
			return nil, convertCompileError(err)
		}
		return p, nil
	case !info.IsDir() && filepath.Ext(path) == ".cue":
		return loadCUEPlan([]string{filepath.Base(path)}, filepath.Dir(path), name)
	case info.IsDir():
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
		return loadCUEPlan([]string{"."}, path, name)
	default:
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("unsupported plan file %s: want .cue, .yaml or .yml", path)}
	}
}

func loadCUEPlan(args []string, dir, name string) (*ir.Plan, error) {
	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	plans := value.LookupPath(cue.ParsePath("plan"))
	if !plans.Exists() {
		return nil, &LoadError{Code: ErrCodeNoPlan, Message: "no plan declared: expected a top-level \"plan\" struct"}
	}

	if name == "" {
		names, err := planNames(plans)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating plans: %v", err)}
		}
		switch len(names) {
		case 0:
			return nil, &LoadError{Code: ErrCodeNoPlan, Message: "plan struct is empty"}
		case 1:
			name = names[0]
		default:
			return nil, &LoadError{Code: ErrCodeNoPlan, Message: fmt.Sprintf("multiple plans declared %v: select one with --plan", names)}
		}
	}

	v := plans.LookupPath(cue.MakePath(cue.Str(name)))
	if !v.Exists() {
		return nil, &LoadError{Code: ErrCodeNoPlan, Message: fmt.Sprintf("plan %q not found", name)}
	}
	p, err := compiler.CompilePlan(v)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return p, nil
}

func planNames(plans cue.Value) ([]string, error) {
	iter, err := plans.Fields()
	if err != nil {
		return nil, err
	}
	var names []string
	for iter.Next() {
		names = append(names, iter.Label())
	}
	sort.Strings(names)
	return names, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "start":
		return ErrCodeStart
	case "step_type":
		return ErrCodeStepType
	case "facilitator":
		return ErrCodeFacil
	case "type":
		return ErrCodeAdviser
	case "id", "nodes":
		return ErrCodeNodes
	}
	if strings.HasPrefix(field, "nodes[") {
		return ErrCodeNodes
	}
	return ErrCodeGeneric
}

// loadErrorCode returns the code of a LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}
