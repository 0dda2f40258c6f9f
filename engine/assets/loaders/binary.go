package loaders

import (
	"fmt"
	"io"
	"os"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// BinaryLoader reads a compiled SPIR-V file into little-endian words.
type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("binary '%s' is %d bytes, not a whole number of words", path, len(buf))
	}

	name := ""
	if params != nil {
		p, ok := params.(map[string]string)
		if !ok {
			return nil, fmt.Errorf("failed to cast params in binary loader")
		}
		name = p["name"]
	}

	res := BytesToBytecode(buf)
	return &metadata.Resource{
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     res,
	}, nil
}

func (bl *BinaryLoader) Unload(*metadata.Resource) error {
	return nil
}

// BytesToBytecode packs little-endian bytes into words. Trailing bytes that do
// not fill a word are dropped.
func BytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

// BytecodeToBytes is the inverse of BytesToBytecode.
func BytecodeToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}
