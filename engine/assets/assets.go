package assets

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-shaders/engine/assets/loaders"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

type AssetInfo struct {
	Name     string
	Path     string
	Type     metadata.ResourceType
	Language metadata.Language
	ModTime  time.Time
}

/**
 * @brief Indexes the shader sources under a root directory by name and keeps
 * the index current while watching for changes.
 */
type AssetManager struct {
	root string
	// Extension -> priority; lower wins when two files share a name.
	extensions map[string]int
	assets     map[string]AssetInfo
	// Shader name -> files it pulls in through #include.
	includes map[string]map[string]bool
	loaders  map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	logger   core.Logger
	events   *core.EventBus
	Debounce time.Duration
}

func NewAssetManager(root string, extensions []string, logger core.Logger, events *core.EventBus) *AssetManager {
	if logger == nil {
		logger = core.NopLogger()
	}
	exts := make(map[string]int, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := exts[ext]; !ok {
			exts[ext] = i
		}
	}
	return &AssetManager{
		root:       root,
		extensions: exts,
		assets:     make(map[string]AssetInfo),
		includes:   make(map[string]map[string]bool),
		loaders:    make(map[metadata.ResourceType]Loader),
		logger:     logger,
		events:     events,
		Debounce:   DefaultDebounce,
	}
}

// Initialize registers the loaders and indexes every source under the root.
func (am *AssetManager) Initialize() error {
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})
	return am.Rescan()
}

// Rescan rebuilds the index from disk.
func (am *AssetManager) Rescan() error {
	info, err := os.Stat(am.root)
	if err != nil {
		return fmt.Errorf("shader source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("shader source directory '%s' is not a directory", am.root)
	}

	am.mutex.Lock()
	am.assets = make(map[string]AssetInfo)
	am.includes = make(map[string]map[string]bool)
	am.mutex.Unlock()

	return filepath.WalkDir(am.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			am.handleFileEvent(path)
		}
		return nil
	})
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// Resolve returns the source path indexed for a shader name.
func (am *AssetManager) Resolve(name string) (string, error) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	a, ok := am.assets[name]
	if !ok {
		return "", fmt.Errorf("%w: '%s' under %s", core.ErrShaderNotFound, name, am.root)
	}
	return a.Path, nil
}

// Names lists every indexed shader, sorted.
func (am *AssetManager) Names() []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	names := make([]string, 0, len(am.assets))
	for name := range am.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadAsset loads a shader by name, or a binary by path.
func (am *AssetManager) LoadAsset(name string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	var path string
	switch resourceType {
	case metadata.ResourceTypeShader:
		p, err := am.Resolve(name)
		if err != nil {
			return nil, err
		}
		path = p
	case metadata.ResourceTypeBinary:
		path = name
	default:
		return nil, fmt.Errorf("unknown resource type %d", resourceType)
	}

	am.mutex.RLock()
	loader, ok := am.loaders[resourceType]
	am.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no loader registered for asset type: %d", resourceType)
	}
	return loader.Load(path, resourceType, params)
}

func (am *AssetManager) UnloadAsset(asset *metadata.Resource) error {
	return nil
}

// shaderName maps a path to its shader name, or "" when the extension is not
// a shader source extension.
func (am *AssetManager) shaderName(path string) string {
	if _, ok := am.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return ""
	}
	return loaders.ShaderName(path)
}

// Handle the creation or modification of a file. Returns the indexed name.
func (am *AssetManager) handleFileEvent(path string) string {
	name := am.shaderName(path)
	if name == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	deps, err := loaders.IncludeDependencies(path)
	if err != nil {
		am.logger.Debugf("scanning includes of '%s': %v", path, err)
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	if existing, ok := am.assets[name]; ok && existing.Path != path {
		if am.priority(existing.Path) <= am.priority(path) {
			am.logger.Warnf("ignoring '%s': shader '%s' already comes from '%s'", path, name, existing.Path)
			return ""
		}
		am.logger.Warnf("shader '%s' now comes from '%s' instead of '%s'", name, path, existing.Path)
	}
	set := make(map[string]bool, len(deps))
	for _, d := range deps {
		set[d] = true
	}
	am.includes[name] = set
	am.assets[name] = AssetInfo{
		Name:     name,
		Path:     path,
		Type:     metadata.ResourceTypeShader,
		Language: loaders.LanguageFor(path),
		ModTime:  info.ModTime(),
	}
	return name
}

func (am *AssetManager) priority(path string) int {
	return am.extensions[strings.ToLower(filepath.Ext(path))]
}

// Remove the asset from the index if it was deleted. When another file with
// the same name is still on disk it takes over, and replaced is true.
func (am *AssetManager) removeAsset(path string) (name string, replaced bool) {
	name = am.shaderName(path)
	if name == "" {
		return "", false
	}
	am.mutex.Lock()
	a, ok := am.assets[name]
	if !ok || a.Path != path {
		am.mutex.Unlock()
		return "", false
	}
	delete(am.assets, name)
	delete(am.includes, name)
	am.mutex.Unlock()

	if next := am.findSource(name); next != "" && am.handleFileEvent(next) == name {
		am.logger.Infof("shader '%s' now comes from '%s'", name, next)
		return name, true
	}
	return name, false
}

// findSource looks for a file on disk that provides the named shader,
// preferring extensions listed earlier.
func (am *AssetManager) findSource(name string) string {
	best := ""
	_ = filepath.WalkDir(am.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || am.shaderName(path) != name {
			return nil
		}
		if best == "" || am.priority(path) < am.priority(best) {
			best = path
		}
		return nil
	})
	return best
}

// dependents lists the shaders that include the given file.
func (am *AssetManager) dependents(path string) []string {
	path = filepath.Clean(path)
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var names []string
	for name, deps := range am.includes {
		if deps[path] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (am *AssetManager) isInclude(path string) bool {
	return len(am.dependents(path)) > 0
}

// Watch keeps the index current until ctx is cancelled. Settled changes fire
// EVENT_CODE_SOURCE_CHANGED and removals EVENT_CODE_SOURCE_REMOVED on the
// event bus.
func (am *AssetManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := am.watchRecursive(watcher, am.root); err != nil {
		return err
	}

	var (
		timersMu sync.Mutex
		timers   = make(map[string]*time.Timer)
	)
	defer func() {
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
	}()

	settle := func(path string) {
		timersMu.Lock()
		delete(timers, path)
		timersMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		am.settle(path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if e.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := am.watchRecursive(watcher, e.Name); err != nil {
						am.logger.Warnf("watching '%s': %v", e.Name, err)
					}
					continue
				}
			}
			if am.shaderName(e.Name) == "" && !am.isInclude(e.Name) {
				continue
			}
			path := e.Name
			timersMu.Lock()
			if t, ok := timers[path]; ok {
				t.Reset(am.Debounce)
			} else {
				timers[path] = time.AfterFunc(am.Debounce, func() { settle(path) })
			}
			timersMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			am.logger.Errorf("watcher: %v", err)
		}
	}
}

// settle looks at a path once its events have quietened down and reports
// whether it now exists or is gone. A change to an included file is reported
// as a change of every shader that includes it.
func (am *AssetManager) settle(path string) {
	if am.shaderName(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if name := am.handleFileEvent(path); name != "" {
				am.logger.Debugf("source changed: %s", path)
				am.events.Fire(core.EVENT_CODE_SOURCE_CHANGED, am, core.EventContext{Shader: name})
			}
		} else if name, replaced := am.removeAsset(path); name != "" {
			if replaced {
				am.logger.Debugf("source removed, falling back: %s", path)
				am.events.Fire(core.EVENT_CODE_SOURCE_CHANGED, am, core.EventContext{Shader: name})
			} else {
				am.logger.Debugf("source removed: %s", path)
				am.events.Fire(core.EVENT_CODE_SOURCE_REMOVED, am, core.EventContext{Shader: name})
			}
		}
	}
	for _, name := range am.dependents(path) {
		am.logger.Debugf("include changed: %s (used by %s)", path, name)
		am.events.Fire(core.EVENT_CODE_SOURCE_CHANGED, am, core.EventContext{Shader: name})
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files already there.
func (am *AssetManager) watchRecursive(watcher *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}
