package shaderc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// GLSLangCompiler drives the glslangValidator reference compiler.
type GLSLangCompiler struct {
	Bin string
	// TargetEnv is passed as --target-env for Vulkan builds, e.g. "vulkan1.2".
	TargetEnv string
	// OpenGLVersion selects -G<version> for OpenGL builds.
	OpenGLVersion int
	ExtraArgs     []string
	// WorkDir holds the temporary output files; empty means os.TempDir.
	WorkDir string

	versionOnce sync.Once
	version     string
}

// NewGLSLangCompiler parses extraArgs with shell quoting rules.
func NewGLSLangCompiler(bin, targetEnv string, openGLVersion int, extraArgs string) (*GLSLangCompiler, error) {
	args, err := shellwords.Parse(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("parsing glslang extra args %q: %w", extraArgs, err)
	}
	if bin == "" {
		bin = "glslangValidator"
	}
	if targetEnv == "" {
		targetEnv = "vulkan1.2"
	}
	if openGLVersion == 0 {
		openGLVersion = 450
	}
	return &GLSLangCompiler{
		Bin:           bin,
		TargetEnv:     targetEnv,
		OpenGLVersion: openGLVersion,
		ExtraArgs:     args,
	}, nil
}

func (g *GLSLangCompiler) Language() metadata.Language {
	return metadata.LanguageGLSL
}

func (g *GLSLangCompiler) Name() string {
	g.versionOnce.Do(func() {
		out, err := exec.Command(g.Bin, "--version").Output()
		if err != nil {
			g.version = "unknown"
			return
		}
		line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
		g.version = strings.TrimSpace(line)
	})
	return fmt.Sprintf("glslang[%s] env=%s gl=%d args=%s", g.version, g.TargetEnv, g.OpenGLVersion, strings.Join(g.ExtraArgs, " "))
}

func (g *GLSLangCompiler) Compile(ctx context.Context, stage metadata.ShaderStage, source string, target metadata.Target) ([]uint32, error) {
	flag, ok := stageFlags[stage]
	if !ok {
		return nil, compileError(stage, target, fmt.Sprintf("glslang cannot compile stage %s", stage), nil)
	}

	out, err := os.CreateTemp(g.WorkDir, "glslang-*.spv")
	if err != nil {
		return nil, compileError(stage, target, "creating output file", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	args := []string{"--stdin", "-S", flag}
	switch target {
	case metadata.TargetVulkan:
		args = append(args, "-V", "--target-env", g.TargetEnv)
	case metadata.TargetOpenGL:
		args = append(args, fmt.Sprintf("-G%d", g.OpenGLVersion))
	default:
		return nil, compileError(stage, target, "unknown target", nil)
	}
	args = append(args, g.ExtraArgs...)
	args = append(args, "-o", outPath)

	cmd := exec.CommandContext(ctx, g.Bin, args...)
	cmd.Stdin = strings.NewReader(source)
	var diag bytes.Buffer
	cmd.Stdout = &diag
	cmd.Stderr = &diag
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, compileError(stage, target, cleanDiagnostic(diag.String()), err)
		}
		return nil, compileError(stage, target, fmt.Sprintf("failed to run %s: %v", g.Bin, err), err)
	}

	compiled, err := os.ReadFile(outPath)
	if err != nil {
		return nil, compileError(stage, target, fmt.Sprintf("unable to read output %q", outPath), err)
	}
	if len(compiled) == 0 || len(compiled)%4 != 0 {
		return nil, compileError(stage, target, fmt.Sprintf("glslang wrote %d bytes, not a SPIR-V module", len(compiled)), nil)
	}
	return loaders.BytesToBytecode(compiled), nil
}

var stageFlags = map[metadata.ShaderStage]string{
	metadata.ShaderStageVertex:   "vert",
	metadata.ShaderStageGeometry: "geom",
	metadata.ShaderStageFragment: "frag",
	metadata.ShaderStageCompute:  "comp",
}

// cleanDiagnostic drops glslang's "stdin" banner lines so only the errors remain.
func cleanDiagnostic(out string) string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r ")
		if line == "" || line == "stdin" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "compiler exited with an error and no output"
	}
	return strings.Join(lines, "\n")
}
