package loaders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

func TestBytecodeConversion(t *testing.T) {
	words := []uint32{0x07230203, 0x00010300, 0xdeadbeef}
	b := BytecodeToBytes(words)
	assert.Equal(t, []byte{0x03, 0x02, 0x23, 0x07}, b[:4])
	assert.Equal(t, words, BytesToBytecode(b))
}

func TestBinaryLoader(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(p, BytecodeToBytes([]uint32{1, 2, 3}), 0o644))

	bl := &BinaryLoader{}
	res, err := bl.Load(p, metadata.ResourceTypeBinary, map[string]string{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Name)
	assert.Equal(t, uint64(12), res.DataSize)
	assert.Equal(t, []uint32{1, 2, 3}, res.Data)

	_, err = bl.Load(p, metadata.ResourceTypeBinary, 42)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(p, []byte{1, 2, 3}, 0o644))
	_, err = bl.Load(p, metadata.ResourceTypeBinary, nil)
	assert.Error(t, err)

	_, err = bl.Load(filepath.Join(dir, "missing.bin"), metadata.ResourceTypeBinary, nil)
	assert.Error(t, err)
}
