package renderer

import "github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"

// NativeShader is a backend-owned handle for one created stage.
type NativeShader interface {
	Stage() metadata.ShaderStage
}

// ShaderDevice is the GPU backend collaborator that turns descriptors into
// native shader objects.
type ShaderDevice interface {
	CreateShader(desc *metadata.BackendShaderDescriptor) (NativeShader, error)
	ReleaseShader(shader NativeShader)
}
