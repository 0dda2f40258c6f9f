package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

const metaVersion = 2

/** @brief The on-disk record of every cached binary of one shader. */
type metaFile struct {
	Shader  string               `json:"shader"`
	Version int                  `json:"version"`
	Entries map[string]metaEntry `json:"entries"`
}

/** @brief One cached stage/target binary. */
type metaEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Binary      string    `json:"binary"`
	Size        int64     `json:"size"`
	// Hex SHA-256 of the binary file contents.
	Checksum  string    `json:"sha256"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fingerprint hashes everything that determines a compiled binary: the stage
// source, the compiler identity and the target. Inputs are length-prefixed so
// that moving bytes between them changes the hash.
func Fingerprint(source, compiler string, target metadata.Target) string {
	h := sha256.New()
	for _, part := range []string{source, compiler, target.String()} {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// readMeta returns an empty record when the file does not exist. A corrupt or
// foreign-version file is treated the same way so the next store rewrites it.
func readMeta(path, shader string) (*metaFile, error) {
	empty := &metaFile{Shader: shader, Version: metaVersion, Entries: make(map[string]metaEntry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}

	var m metaFile
	if err := json.Unmarshal(data, &m); err != nil {
		return empty, fmt.Errorf("corrupt cache metadata '%s': %w", path, err)
	}
	if m.Version != metaVersion || m.Shader != shader {
		return empty, fmt.Errorf("cache metadata '%s' is for shader '%s' version %d", path, m.Shader, m.Version)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]metaEntry)
	}
	return &m, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encodeMeta(m *metaFile) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
