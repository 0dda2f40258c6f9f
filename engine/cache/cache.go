package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// Key names one cached binary.
type Key struct {
	Shader string
	Stage  metadata.ShaderStage
	Target metadata.Target
}

func (k Key) entryName() string {
	return k.Stage.String() + "." + k.Target.String()
}

// BinaryName is the file name of the cached binary inside the cache root.
func (k Key) BinaryName() string {
	return fmt.Sprintf("%s.%s.%s.bin", k.Shader, k.Stage, k.Target)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Shader, k.Stage, k.Target)
}

// MetaName is the file name of the metadata record of a shader.
func MetaName(shader string) string {
	return shader + ".cached.meta.json"
}

/** @brief Cache layer configuration. */
type Config struct {
	/** @brief Directory holding binaries and metadata. Created on first store. */
	Root string
	/** @brief A disabled cache always misses and never writes. */
	Enabled bool
}

/**
 * @brief Persists compiled stage binaries across runs, keyed by
 * (shader, stage, target) and validated by a content fingerprint.
 */
type Cache struct {
	root    string
	enabled bool
	logger  core.Logger
	loader  *loaders.BinaryLoader

	mutex sync.Mutex
	// One lock per shader serialises metadata read-modify-write.
	locks map[string]*sync.Mutex
}

func New(config Config, logger core.Logger) *Cache {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Cache{
		root:    config.Root,
		enabled: config.Enabled && config.Root != "",
		logger:  logger,
		loader:  &loaders.BinaryLoader{},
		locks:   make(map[string]*sync.Mutex),
	}
}

func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) Root() string { return c.root }

func (c *Cache) lock(shader string) func() {
	c.mutex.Lock()
	l, ok := c.locks[shader]
	if !ok {
		l = &sync.Mutex{}
		c.locks[shader] = l
	}
	c.mutex.Unlock()

	l.Lock()
	return l.Unlock
}

func validShaderName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Lookup reports the path of the cached binary when the recorded fingerprint
// matches and the binary is present with the recorded size and checksum.
func (c *Cache) Lookup(key Key, fingerprint string) (string, bool) {
	if !c.enabled || !validShaderName(key.Shader) {
		return "", false
	}
	unlock := c.lock(key.Shader)
	defer unlock()

	path, entry, ok := c.lookup(key, fingerprint)
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil || checksum(data) != entry.Checksum {
		return "", false
	}
	return path, true
}

func (c *Cache) lookup(key Key, fingerprint string) (string, metaEntry, bool) {
	meta, err := readMeta(filepath.Join(c.root, MetaName(key.Shader)), key.Shader)
	if err != nil {
		c.logger.Debugf("cache metadata unreadable, treating as miss: %v", err)
		return "", metaEntry{}, false
	}
	entry, ok := meta.Entries[key.entryName()]
	if !ok || entry.Fingerprint != fingerprint || entry.Binary != key.BinaryName() || entry.Checksum == "" {
		return "", metaEntry{}, false
	}

	path := filepath.Join(c.root, entry.Binary)
	info, err := os.Stat(path)
	if err != nil || info.Size() != entry.Size {
		return "", metaEntry{}, false
	}
	return path, entry, true
}

// Load returns the cached words on a hit. Unreadable binaries, and binaries
// whose contents no longer match the recorded checksum, count as misses.
func (c *Cache) Load(key Key, fingerprint string) ([]uint32, bool) {
	if !c.enabled || !validShaderName(key.Shader) {
		return nil, false
	}
	unlock := c.lock(key.Shader)
	defer unlock()

	path, entry, ok := c.lookup(key, fingerprint)
	if !ok {
		return nil, false
	}
	res, err := c.loader.Load(path, metadata.ResourceTypeBinary, map[string]string{"name": key.BinaryName()})
	if err != nil {
		c.logger.Debugf("cached binary '%s' unreadable: %v", path, err)
		return nil, false
	}
	words, ok := res.Data.([]uint32)
	if !ok || len(words) == 0 {
		return nil, false
	}
	if checksum(loaders.BytecodeToBytes(words)) != entry.Checksum {
		c.logger.Debugf("cached binary '%s' does not match its checksum", path)
		return nil, false
	}
	return words, true
}

// Store writes the binary and records it in the shader's metadata. Both files
// are written to a temporary name and renamed into place. The previous record
// of the key is dropped before its binary is replaced, so an interrupted store
// leaves a miss. Any failure is a *core.CacheWriteError.
func (c *Cache) Store(key Key, fingerprint string, binary []uint32) error {
	if !c.enabled {
		return nil
	}
	if !validShaderName(key.Shader) {
		return &core.CacheWriteError{Path: key.BinaryName(), Err: fmt.Errorf("invalid shader name %q", key.Shader)}
	}
	unlock := c.lock(key.Shader)
	defer unlock()

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return &core.CacheWriteError{Path: c.root, Err: err}
	}

	metaPath := filepath.Join(c.root, MetaName(key.Shader))
	meta, err := readMeta(metaPath, key.Shader)
	if err != nil {
		if meta == nil {
			return &core.CacheWriteError{Path: metaPath, Err: err}
		}
		c.logger.Warnf("rewriting cache metadata: %v", err)
	}
	if _, ok := meta.Entries[key.entryName()]; ok {
		delete(meta.Entries, key.entryName())
		if err := writeMeta(metaPath, meta); err != nil {
			return err
		}
	}

	data := loaders.BytecodeToBytes(binary)
	binPath := filepath.Join(c.root, key.BinaryName())
	if err := writeAtomic(binPath, data); err != nil {
		return &core.CacheWriteError{Path: binPath, Err: err}
	}

	meta.Entries[key.entryName()] = metaEntry{
		Fingerprint: fingerprint,
		Binary:      key.BinaryName(),
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := writeMeta(metaPath, meta); err != nil {
		return err
	}

	c.logger.Debugf("cached %s (%d bytes)", key, len(data))
	return nil
}

// Invalidate removes the metadata and every cached binary of a shader.
func (c *Cache) Invalidate(shader string) error {
	if !c.enabled || !validShaderName(shader) {
		return nil
	}
	unlock := c.lock(shader)
	defer unlock()

	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !ownsFile(shader, e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(c.root, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ownsFile reports whether name is the metadata or a binary of shader, and
// not of another shader that merely shares the prefix.
func ownsFile(shader, name string) bool {
	if name == MetaName(shader) {
		return true
	}
	rest, ok := strings.CutPrefix(name, shader+".")
	if !ok {
		return false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 3 || parts[2] != "bin" {
		return false
	}
	_, stageOK := metadata.ParseShaderStage(parts[0])
	_, targetOK := metadata.ParseTarget(parts[1])
	return stageOK && targetOK
}

func writeMeta(path string, meta *metaFile) error {
	encoded, err := encodeMeta(meta)
	if err != nil {
		return &core.CacheWriteError{Path: path, Err: err}
	}
	if err := writeAtomic(path, encoded); err != nil {
		return &core.CacheWriteError{Path: path, Err: err}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + core.NewTempSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
