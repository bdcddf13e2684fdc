// Package manifest handles il2x.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in project directories.
const FileName = "il2x.toml"

// Project kinds.
const (
	Executable = "executable"
	Library    = "library"
)

// DefaultOutputDir is the output directory used when none is configured.
const DefaultOutputDir = "build/il2x"

// Manifest represents an il2x.toml project configuration.
type Manifest struct {
	Project   Project   `toml:"project"`
	Input     Input     `toml:"input"`
	Output    Output    `toml:"output"`
	Translate Translate `toml:"translate"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the il2x.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// Input names the metadata images to translate.
type Input struct {
	Image      string   `toml:"image"`
	References []string `toml:"references"`
}

// Output configures where artifacts are written.
type Output struct {
	Dir string `toml:"dir"`
}

// Translate configures the pipeline.
type Translate struct {
	Optimize bool `toml:"optimize"`
	Jobs     int  `toml:"jobs"`
	DumpIR   bool `toml:"dump-ir"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses an il2x.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Project.Kind == "" {
		m.Project.Kind = Library
	}
	if m.Output.Dir == "" {
		m.Output.Dir = DefaultOutputDir
	}
	if !md.IsDefined("translate", "optimize") {
		m.Translate.Optimize = true
	}
	if m.Translate.Jobs <= 0 {
		m.Translate.Jobs = 1
	}

	switch m.Project.Kind {
	case Executable, Library:
	default:
		return nil, fmt.Errorf("%s: unknown project kind %q", path, m.Project.Kind)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an il2x.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns path made absolute against the manifest directory.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// ImagePath returns the absolute path of the primary image.
func (m *Manifest) ImagePath() string {
	return m.Resolve(m.Input.Image)
}

// OutputDir returns the absolute output directory.
func (m *Manifest) OutputDir() string {
	return m.Resolve(m.Output.Dir)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	return m.Resolve(m.Log.File)
}
