package loaders

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

const maxIncludeDepth = 16

/** @brief A combined shader source split into its stages. */
type ShaderSource struct {
	/** @brief The shader name (file stem). */
	Name string
	/** @brief The path the source was read from. */
	Path string
	/** @brief The source language, derived from the file extension. */
	Language metadata.Language
	/** @brief Per-stage source text with includes resolved. */
	Bundle metadata.SourceBundle
	/** @brief The file contents as read from disk. */
	Raw string
	/** @brief Every file inlined by #include, in the order first seen. */
	Includes []string
}

// ShaderLoader reads a combined shader file, splits it into stages and
// inlines #include directives relative to the file's directory.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	if assetType != metadata.ResourceTypeShader {
		return nil, fmt.Errorf("shader loader cannot load resource type %d", assetType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	src, err := ParseShaderSource(path, string(data))
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Name:     src.Name,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     src,
	}, nil
}

func (sl *ShaderLoader) Unload(*metadata.Resource) error {
	return nil
}

// ParseShaderSource preprocesses raw as if it had been read from path.
func ParseShaderSource(path, raw string) (*ShaderSource, error) {
	bundle, starts, err := split(raw)
	if err != nil {
		return nil, err
	}

	r := &includeResolver{seen: make(map[string]bool)}
	dir := filepath.Dir(path)
	for _, stage := range bundle.Stages() {
		resolved, err := r.resolve(bundle[stage], dir, []string{path}, 0, starts[stage])
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", stage, err)
		}
		bundle[stage] = resolved
	}

	return &ShaderSource{
		Name:     ShaderName(path),
		Path:     path,
		Language: LanguageFor(path),
		Bundle:   bundle,
		Raw:      raw,
		Includes: r.includes,
	}, nil
}

// ShaderName is the file name without directory and extension.
func ShaderName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LanguageFor derives the source language from the file extension.
func LanguageFor(path string) metadata.Language {
	if strings.EqualFold(filepath.Ext(path), ".wgsl") {
		return metadata.LanguageWGSL
	}
	return metadata.LanguageGLSL
}

type includeResolver struct {
	includes []string
	seen     map[string]bool
}

// resolve inlines the includes of body. firstLine is the line of the
// enclosing file that body starts on, so errors point into that file.
func (r *includeResolver) resolve(body, dir string, chain []string, depth, firstLine int) (string, error) {
	if !strings.Contains(body, "#include") {
		return body, nil
	}
	if depth >= maxIncludeDepth {
		return "", fmt.Errorf("includes nested deeper than %d", maxIncludeDepth)
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNumber := firstLine - 1
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		target, ok, err := parseInclude(line)
		if err != nil {
			return "", &core.MalformedSourceError{Line: lineNumber, Reason: err.Error()}
		}
		if !ok {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}

		full := filepath.Join(dir, target)
		for _, seen := range chain {
			if filepath.Clean(seen) == full {
				return "", fmt.Errorf("line %d: include cycle through '%s'", lineNumber, target)
			}
		}
		if !r.seen[full] {
			r.seen[full] = true
			r.includes = append(r.includes, full)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return "", fmt.Errorf("line %d: resolving include '%s': %w", lineNumber, target, err)
		}
		text := strings.ReplaceAll(string(data), "\r\n", "\n")
		for _, l := range strings.Split(text, "\n") {
			if _, isMarker, _ := parseMarker(strings.TrimSpace(l), 0); isMarker {
				return "", fmt.Errorf("line %d: included file '%s' contains a stage marker", lineNumber, target)
			}
		}
		nested, err := r.resolve(text, filepath.Dir(full), append(chain, full), depth+1, 1)
		if err != nil {
			return "", fmt.Errorf("in '%s': %w", target, err)
		}
		sb.WriteString(nested)
		if !strings.HasSuffix(nested, "\n") {
			sb.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// IncludeDependencies lists every file a source pulls in through #include,
// directly or transitively. Missing files are listed too, so that creating
// them later can be noticed. The source itself is not read for stages.
func IncludeDependencies(path string) ([]string, error) {
	var deps []string
	seen := map[string]bool{filepath.Clean(path): true}

	var walk func(file string, depth int) error
	walk = func(file string, depth int) error {
		if depth >= maxIncludeDepth {
			return fmt.Errorf("includes nested deeper than %d", maxIncludeDepth)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		for _, line := range strings.Split(string(data), "\n") {
			target, ok, err := parseInclude(line)
			if err != nil || !ok {
				continue
			}
			full := filepath.Join(filepath.Dir(file), target)
			if seen[full] {
				continue
			}
			seen[full] = true
			deps = append(deps, full)
			if err := walk(full, depth+1); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		return nil
	}
	err := walk(filepath.Clean(path), 0)
	return deps, err
}

// parseInclude recognises `#include "file"` and `#include <file>`.
func parseInclude(line string) (string, bool, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#include") {
		return "", false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "#include"))
	if len(rest) < 2 {
		return "", true, fmt.Errorf("#include without a file name")
	}
	var closing byte
	switch rest[0] {
	case '"':
		closing = '"'
	case '<':
		closing = '>'
	default:
		return "", true, fmt.Errorf("malformed #include: %s", trimmed)
	}
	end := strings.IndexByte(rest[1:], closing)
	if end <= 0 {
		return "", true, fmt.Errorf("malformed #include: %s", trimmed)
	}
	return rest[1 : end+1], true, nil
}
