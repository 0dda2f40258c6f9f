// Command anima-shaders preprocesses, compiles, caches and reflects combined
// shader sources.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"cogentcore.org/core/cli"

	"github.com/spaghettifunk/anima-shaders/engine"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-shaders/engine/systems"
)

//go:generate core generate -add-types -add-funcs

// Config is the configuration information for the anima-shaders cli.
type Config struct {

	// File is the TOML pipeline configuration. When empty,
	// anima-shaders.toml is read from the working directory
	// if it exists, and the defaults are used otherwise.
	File string `flag:"f,file"`

	// LogLevel overrides log.level from the pipeline configuration.
	LogLevel string `flag:"l,log-level"`

	// Names are the shaders to build. Every discovered shader
	// is built when no name is given.
	Names []string `cmd:"build" posarg:"leftover" required:"-"`

	// Path is the SPIR-V binary or combined source file to inspect.
	Path string `cmd:"inspect" posarg:"0"`
}

// stdout is where command output goes.
var stdout io.Writer = os.Stdout

func main() { //types:skip
	opts := cli.DefaultOptions("anima-shaders", "Preprocesses, compiles, caches and reflects combined shader sources.")
	cli.Run(opts, &Config{}, Build, Watch, Inspect)
}

// Build compiles the named shaders, or every discovered shader,
// and prints a summary table.
func Build(c *Config) error { //cli:cmd -root
	return withEngine(c, func(ctx context.Context, e *engine.Engine, _ core.Logger) error {
		return build(ctx, e, c.Names, stdout)
	})
}

// Watch builds every shader and then rebuilds shaders as their
// sources change, until interrupted.
func Watch(c *Config) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine, logger core.Logger) error {
		if err := build(ctx, e, nil, stdout); err != nil {
			logger.Warnf("initial build had failures, watching anyway: %v", err)
		}
		return e.Run(ctx)
	})
}

// Inspect prints the reflected resources of a SPIR-V binary,
// or of every stage of a combined source file.
func Inspect(c *Config) error {
	return withEngine(c, func(_ context.Context, e *engine.Engine, _ core.Logger) error {
		return inspect(e, c.Path, stdout)
	})
}

// withEngine loads the configuration, starts an engine and runs fn with a
// context that is cancelled on SIGINT, SIGTERM or SIGQUIT.
func withEngine(c *Config, fn func(context.Context, *engine.Engine, core.Logger) error) error {
	config, err := engine.LoadConfig(c.File)
	if err != nil {
		return err
	}
	if c.LogLevel != "" {
		config.Log.Level = c.LogLevel
	}
	opts, err := config.LoggerOptions()
	if err != nil {
		return err
	}
	logger := core.NewLogger(opts)

	e, err := engine.New(config, nil, logger)
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		return err
	}
	defer func() { _ = e.Shutdown() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()
	return fn(ctx, e, logger)
}

func build(ctx context.Context, e *engine.Engine, names []string, out io.Writer) error {
	programs, failures := e.Build(ctx, names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SHADER\tSTATE\tSTAGES\tUBO\tSAMPLERS\tSSBO\tSTORAGE IMG\tCACHE HITS")
	for _, name := range sortedKeys(programs) {
		p := programs[name]
		var ubo, samplers, ssbo, images uint32
		for _, d := range p.Descriptors {
			ubo += d.NumUniformBuffers
			samplers += d.NumSamplers
			ssbo += d.NumStorageBuffers
			images += d.NumStorageTextures
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", name, p.State, stageList(p), ubo, samplers, ssbo, images, p.CacheHits)
	}
	for _, name := range sortedKeys(failures) {
		fmt.Fprintf(w, "%s\t%s\t\t\t\t\t\t\n", name, failureState(failures[name]))
	}
	_ = w.Flush()

	for _, name := range sortedKeys(failures) {
		fmt.Fprintf(out, "\n%s: %v\n", name, failures[name])
	}
	m := e.Metrics()
	fmt.Fprintf(out, "\n%d loaded, %d failed, %d cache hits, %d misses, %.2fms avg compile\n",
		len(programs), len(failures), m.CacheHits, m.CacheMisses, m.CompileMSAvg)
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d shaders failed to build", len(failures), len(failures)+len(programs))
	}
	return nil
}

func inspect(e *engine.Engine, path string, out io.Writer) error {
	module, stages, err := e.Inspect(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "SPIR-V %s, bound %d, %d instructions\n", module.VersionString(), module.Bound, len(module.Instructions))
	for _, s := range stages {
		fmt.Fprintf(out, "\n%s stage, entry point %s\n", s.Stage, s.EntryPoint)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  SET\tBINDING\tKIND\tCOUNT\tSIZE\tNAME")
		for _, r := range s.Resources {
			fmt.Fprintf(w, "  %d\t%d\t%s\t%d\t%d\t%s\n", r.Set, r.Binding, r.Kind, r.Count, r.Size, r.Name)
			for _, m := range r.Members {
				fmt.Fprintf(w, "  \t\t  +%d\t%s\t%d\t%s\n", m.Offset, m.Type, m.Size, m.Name)
			}
		}
		_ = w.Flush()
		for _, v := range s.Inputs {
			fmt.Fprintf(out, "  in  location %d %s %s offset %d\n", v.Location, v.Type, v.Name, v.Offset)
		}
		if len(s.Inputs) > 0 {
			fmt.Fprintf(out, "  input stride %d\n", s.InputStride)
		}
		for _, v := range s.Outputs {
			fmt.Fprintf(out, "  out location %d %s %s\n", v.Location, v.Type, v.Name)
		}
	}
	return nil
}

func stageList(p *systems.Program) string {
	stages := p.Binaries.Stages()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}

func failureState(err error) metadata.ShaderState {
	var le *core.LoadError
	if errors.As(err, &le) {
		return le.State
	}
	return metadata.ShaderStatePreprocessFailed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
