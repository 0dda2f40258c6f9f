package metadata

import (
	"fmt"
	"sort"
	"strings"
)

/** @brief Shader stages available in the system. */
type ShaderStage int

const (
	ShaderStageUndefined ShaderStage = 0x00000000
	ShaderStageVertex    ShaderStage = 0x00000001
	ShaderStageGeometry  ShaderStage = 0x00000002
	ShaderStageFragment  ShaderStage = 0x00000004
	ShaderStageCompute   ShaderStage = 0x00000008
)

// stageNames is the canonical name of each stage. The name is used in marker
// lines, cache file names and log output.
var stageNames = map[ShaderStage]string{
	ShaderStageUndefined: "undefined",
	ShaderStageVertex:    "vertex",
	ShaderStageGeometry:  "geometry",
	ShaderStageFragment:  "fragment",
	ShaderStageCompute:   "compute",
}

// stageAliases maps every accepted spelling to its stage.
var stageAliases = map[string]ShaderStage{
	"vertex":   ShaderStageVertex,
	"vert":     ShaderStageVertex,
	"geometry": ShaderStageGeometry,
	"geom":     ShaderStageGeometry,
	"fragment": ShaderStageFragment,
	"frag":     ShaderStageFragment,
	"pixel":    ShaderStageFragment,
	"compute":  ShaderStageCompute,
	"comp":     ShaderStageCompute,
}

// stageOrder is the order in which stages run through the pipeline.
var stageOrder = []ShaderStage{
	ShaderStageVertex,
	ShaderStageGeometry,
	ShaderStageFragment,
	ShaderStageCompute,
}

func (s ShaderStage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ShaderStage(%d)", int(s))
}

// Valid reports whether s names exactly one real stage.
func (s ShaderStage) Valid() bool {
	return s != ShaderStageUndefined && stageNames[s] != ""
}

// ParseShaderStage returns the stage for one of the accepted stage names.
func ParseShaderStage(name string) (ShaderStage, bool) {
	s, ok := stageAliases[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Stages returns every real stage in pipeline order.
func Stages() []ShaderStage {
	out := make([]ShaderStage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

func stageRank(s ShaderStage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return len(stageOrder)
}

// SortStages sorts stages in pipeline order.
func SortStages(stages []ShaderStage) {
	sort.Slice(stages, func(i, j int) bool {
		return stageRank(stages[i]) < stageRank(stages[j])
	})
}

/** @brief The environment a binary is compiled for. */
type Target int

const (
	TargetVulkan Target = iota
	TargetOpenGL
)

func (t Target) String() string {
	switch t {
	case TargetVulkan:
		return "vulkan"
	case TargetOpenGL:
		return "opengl"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

func ParseTarget(name string) (Target, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "vulkan", "vk":
		return TargetVulkan, true
	case "opengl", "gl":
		return TargetOpenGL, true
	}
	return 0, false
}

/** @brief The source language of a shader file. */
type Language int

const (
	LanguageGLSL Language = iota
	LanguageWGSL
)

func (l Language) String() string {
	switch l {
	case LanguageGLSL:
		return "glsl"
	case LanguageWGSL:
		return "wgsl"
	}
	return fmt.Sprintf("Language(%d)", int(l))
}

// SourceBundle holds the per-stage source text split out of one combined file.
// Every stage present has a non-empty source.
type SourceBundle map[ShaderStage]string

// Stages returns the stages in the bundle, in pipeline order.
func (b SourceBundle) Stages() []ShaderStage {
	out := make([]ShaderStage, 0, len(b))
	for s := range b {
		out = append(out, s)
	}
	SortStages(out)
	return out
}

// CompiledBinary holds one SPIR-V word stream per stage. It is never mutated
// after compilation.
type CompiledBinary map[ShaderStage][]uint32

func (c CompiledBinary) Stages() []ShaderStage {
	out := make([]ShaderStage, 0, len(c))
	for s := range c {
		out = append(out, s)
	}
	SortStages(out)
	return out
}

/**
 * @brief Represents the current state of a shader load.
 */
type ShaderState int

const (
	/** @brief Nothing has happened yet. */
	ShaderStateUnprocessed ShaderState = iota
	/** @brief The source file has been split into stages. */
	ShaderStatePreprocessed
	/** @brief Every stage has been compiled. */
	ShaderStateCompiled
	/** @brief Every stage binary came from the cache. */
	ShaderStateCacheHit
	/** @brief Every stage binary has been reflected. */
	ShaderStateReflected
	/** @brief Backend descriptors exist for every stage. */
	ShaderStateAssembled
	/** @brief The shader is ready for use. */
	ShaderStateReady

	ShaderStatePreprocessFailed
	ShaderStateCompileFailed
	ShaderStateReflectFailed
	ShaderStateLimitExceeded
	// The GPU backend refused to create a native object for a stage.
	ShaderStateCreateFailed
)

var stateNames = map[ShaderState]string{
	ShaderStateUnprocessed:      "Unprocessed",
	ShaderStatePreprocessed:     "Preprocessed",
	ShaderStateCompiled:         "Compiled",
	ShaderStateCacheHit:         "CacheHit",
	ShaderStateReflected:        "Reflected",
	ShaderStateAssembled:        "Assembled",
	ShaderStateReady:            "Ready",
	ShaderStatePreprocessFailed: "PreprocessFailed",
	ShaderStateCompileFailed:    "CompileFailed",
	ShaderStateReflectFailed:    "ReflectFailed",
	ShaderStateLimitExceeded:    "LimitExceeded",
	ShaderStateCreateFailed:     "CreateFailed",
}

func (s ShaderState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ShaderState(%d)", int(s))
}

func (s ShaderState) IsFailure() bool {
	return s >= ShaderStatePreprocessFailed
}

func (s ShaderState) IsTerminal() bool {
	return s == ShaderStateReady || s.IsFailure()
}
