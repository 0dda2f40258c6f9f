package shaderc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

const nagaModule = "github.com/gogpu/naga"

// NagaCompiler compiles WGSL stages in-process with naga. It also emits GLSL
// text for the OpenGL backend.
type NagaCompiler struct {
	// GLSLVersion is the language version of emitted GLSL text.
	GLSLVersion glsl.Version
	// Debug keeps OpName instructions so reflection can report names.
	Debug bool

	versionOnce sync.Once
	version     string
}

func NewNagaCompiler(glslVersion int) *NagaCompiler {
	return &NagaCompiler{
		GLSLVersion: GLSLVersion(glslVersion),
		Debug:       true,
	}
}

// GLSLVersion maps a numeric version such as 330 or 450 to naga's version
// table. Unknown numbers fall back to 3.30 core.
func GLSLVersion(v int) glsl.Version {
	switch v {
	case 400:
		return glsl.Version400
	case 410:
		return glsl.Version410
	case 420:
		return glsl.Version420
	case 430:
		return glsl.Version430
	case 450:
		return glsl.Version450
	case 460:
		return glsl.Version460
	default:
		return glsl.Version330
	}
}

func (n *NagaCompiler) Language() metadata.Language {
	return metadata.LanguageWGSL
}

func (n *NagaCompiler) Name() string {
	n.versionOnce.Do(func() {
		n.version = "devel"
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, dep := range info.Deps {
			if dep.Path == nagaModule {
				n.version = dep.Version
				return
			}
		}
	})
	return fmt.Sprintf("naga[%s] debug=%t", n.version, n.Debug)
}

func (n *NagaCompiler) Compile(ctx context.Context, stage metadata.ShaderStage, source string, target metadata.Target) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, compileError(stage, target, "cancelled", err)
	}
	module, _, err := n.lower(stage, source, target)
	if err != nil {
		return nil, err
	}

	opts := spirv.Options{Version: spirv.Version1_3, Debug: n.Debug}
	if target == metadata.TargetOpenGL {
		opts.Version = spirv.Version1_0
	}
	bin, err := naga.GenerateSPIRV(module, opts)
	if err != nil {
		return nil, compileError(stage, target, err.Error(), err)
	}
	return loaders.BytesToBytecode(bin), nil
}

func (n *NagaCompiler) EmitGLSL(ctx context.Context, stage metadata.ShaderStage, source string, _ []uint32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", compileError(stage, metadata.TargetOpenGL, "cancelled", err)
	}
	module, entry, err := n.lower(stage, source, metadata.TargetOpenGL)
	if err != nil {
		return "", err
	}
	text, _, err := glsl.Compile(module, glsl.Options{
		LangVersion:        n.GLSLVersion,
		EntryPoint:         entry,
		ForceHighPrecision: true,
	})
	if err != nil {
		return "", compileError(stage, metadata.TargetOpenGL, err.Error(), err)
	}
	return text, nil
}

// lower runs the front half of the pipeline and checks that the source
// declares an entry point for the requested stage.
func (n *NagaCompiler) lower(stage metadata.ShaderStage, source string, target metadata.Target) (*ir.Module, string, error) {
	want, ok := nagaStages[stage]
	if !ok {
		return nil, "", compileError(stage, target, fmt.Sprintf("WGSL has no %s stage", stage), nil)
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return nil, "", compileError(stage, target, err.Error(), err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, "", compileError(stage, target, err.Error(), err)
	}
	problems, err := naga.Validate(module)
	if err != nil {
		return nil, "", compileError(stage, target, err.Error(), err)
	}
	if len(problems) > 0 {
		return nil, "", compileError(stage, target, problems[0].Error(), &problems[0])
	}

	for _, ep := range module.EntryPoints {
		if ep.Stage == want {
			return module, ep.Name, nil
		}
	}
	return nil, "", compileError(stage, target, fmt.Sprintf("no @%s entry point", stage), nil)
}

var nagaStages = map[metadata.ShaderStage]ir.ShaderStage{
	metadata.ShaderStageVertex:   ir.StageVertex,
	metadata.ShaderStageFragment: ir.StageFragment,
	metadata.ShaderStageCompute:  ir.StageCompute,
}
