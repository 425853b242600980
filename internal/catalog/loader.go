package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// WorkflowFile is one parsed and validated *.workflow.{yaml,yml,json}
// document, ready to be persisted through Store.PutDefinition.
type WorkflowFile struct {
	FilePath   string
	WorkflowID string
	Definition *Definition
	RawContent json.RawMessage
	Checksum   string
}

// LoadResult aggregates a directory scan.
type LoadResult struct {
	Workflows  []*WorkflowFile
	Errors     []LoadError
	TotalFiles int
}

// LoadError pairs a file path with the error loading it produced.
type LoadError struct {
	FilePath string
	Error    error
}

// Loader reads workflow definition files off a filesystem. It is
// backed by afero.Fs so definitions can be loaded from disk in
// production or from an in-memory fs in tests.
type Loader struct {
	fs           afero.Fs
	workflowsDir string
}

// NewLoader returns a Loader rooted at workflowsDir on the OS
// filesystem.
func NewLoader(workflowsDir string) *Loader {
	return &Loader{fs: afero.NewOsFs(), workflowsDir: workflowsDir}
}

// NewLoaderFS returns a Loader backed by an explicit afero.Fs, for
// tests that want an in-memory directory instead of real disk.
func NewLoaderFS(fs afero.Fs, workflowsDir string) *Loader {
	return &Loader{fs: fs, workflowsDir: workflowsDir}
}

// LoadAll loads every workflow definition file under the loader's
// directory, collecting per-file errors instead of aborting the scan.
func (l *Loader) LoadAll() (*LoadResult, error) {
	result := &LoadResult{Workflows: []*WorkflowFile{}, Errors: []LoadError{}}

	exists, err := afero.DirExists(l.fs, l.workflowsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workflows dir: %w", err)
	}
	if !exists {
		return result, nil
	}

	var allFiles []string
	for _, suffix := range []string{".workflow.yaml", ".workflow.yml", ".workflow.json"} {
		matches, err := globSuffix(l.fs, l.workflowsDir, suffix)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s files: %w", suffix, err)
		}
		allFiles = append(allFiles, matches...)
	}
	result.TotalFiles = len(allFiles)

	for _, filePath := range allFiles {
		wf, err := l.LoadFile(filePath)
		if err != nil {
			result.Errors = append(result.Errors, LoadError{FilePath: filePath, Error: err})
			continue
		}
		result.Workflows = append(result.Workflows, wf)
	}
	return result, nil
}

// LoadFile loads and validates a single workflow definition file.
func (l *Loader) LoadFile(filePath string) (*WorkflowFile, error) {
	content, err := afero.ReadFile(l.fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	checksum := computeChecksum(content)
	workflowID := extractWorkflowID(filePath)

	var dataMap map[string]interface{}
	if strings.HasSuffix(filePath, ".json") {
		if err := json.Unmarshal(content, &dataMap); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		var yamlData interface{}
		if err := yaml.Unmarshal(content, &yamlData); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		converted := convertYAMLToJSON(yamlData)
		ok := false
		dataMap, ok = converted.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("workflow definition must be an object")
		}
	}

	if _, hasID := dataMap["id"]; !hasID {
		dataMap["id"] = workflowID
	}

	rawJSON, err := json.Marshal(dataMap)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to JSON: %w", err)
	}

	def, validationResult, err := ValidateDefinition(rawJSON)
	if err != nil {
		var msgs []string
		for _, ve := range validationResult.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", ve.Path, ve.Message))
		}
		return nil, fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}

	return &WorkflowFile{
		FilePath:   filePath,
		WorkflowID: def.ID,
		Definition: def,
		RawContent: rawJSON,
		Checksum:   checksum,
	}, nil
}

func globSuffix(fs afero.Fs, dir, suffix string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), suffix) {
			out = append(out, dir+"/"+e.Name())
		}
	}
	return out, nil
}

func extractWorkflowID(filePath string) string {
	base := filePath
	if idx := strings.LastIndex(filePath, "/"); idx >= 0 {
		base = filePath[idx+1:]
	}
	for _, suffix := range []string{".workflow.yaml", ".workflow.yml", ".workflow.json"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

func computeChecksum(content []byte) string {
	hash := md5.Sum(content)
	return hex.EncodeToString(hash[:])
}

func convertYAMLToJSON(input interface{}) interface{} {
	switch v := input.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{})
		for key, val := range v {
			result[key] = convertYAMLToJSON(val)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[string]interface{})
		for key, val := range v {
			strKey := fmt.Sprintf("%v", key)
			result[strKey] = convertYAMLToJSON(val)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertYAMLToJSON(val)
		}
		return result
	default:
		return v
	}
}
