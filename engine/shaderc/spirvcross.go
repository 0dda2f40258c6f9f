package shaderc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// SPIRVCross cross-compiles SPIR-V binaries back to GLSL text.
type SPIRVCross struct {
	Bin     string
	Version int
}

func NewSPIRVCross(bin string, version int) *SPIRVCross {
	if bin == "" {
		bin = "spirv-cross"
	}
	if version == 0 {
		version = 330
	}
	return &SPIRVCross{Bin: bin, Version: version}
}

// EmitGLSL ignores the source and converts the binary.
func (s *SPIRVCross) EmitGLSL(ctx context.Context, stage metadata.ShaderStage, _ string, binary []uint32) (string, error) {
	if len(binary) == 0 {
		return "", compileError(stage, metadata.TargetOpenGL, "no binary to cross-compile", nil)
	}
	cmd := exec.CommandContext(ctx, s.Bin,
		"--version", strconv.Itoa(s.Version),
		"--no-es",
		"-",
	)
	cmd.Stdin = bytes.NewReader(loaders.BytecodeToBytes(binary))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", compileError(stage, metadata.TargetOpenGL, fmt.Sprintf("%s\nfailed to run %v", stderr.String(), cmd.Args), err)
	}
	return string(out), nil
}
