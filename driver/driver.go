// Package driver runs the translation pipeline: jit, optimize, emit, and
// writing the artifact set to disk.
package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/reignstudios/il2x/emit"
	"github.com/reignstudios/il2x/ir"
	"github.com/reignstudios/il2x/jit"
	"github.com/reignstudios/il2x/manifest"
	"github.com/reignstudios/il2x/metadata"
	"github.com/reignstudios/il2x/optimize"
)

var log = commonlog.GetLogger("il2x.driver")

// buildNamespace scopes name-based build ids.
var buildNamespace = uuid.MustParse("6f1d3c0a-9b7e-4d8f-a2c5-3e4b5a6c7d8e")

// Options control one translation.
type Options struct {
	Executable      bool
	Optimize        bool
	Jobs            int
	MaxGenericDepth int
	// DumpIR receives a listing of every translated method when set.
	DumpIR io.Writer
	// BuildID overrides the id derived from the module set.
	BuildID string
}

// Config is a complete run: where the images are and where output goes.
type Config struct {
	Image      string
	References []string
	OutputDir  string
	Options    Options
}

// BuildID derives a stable id from the canonical image encoding of mods.
func BuildID(mods []*metadata.Module) (string, error) {
	data, err := metadata.EncodeImage(mods)
	if err != nil {
		return "", fmt.Errorf("build id: %w", err)
	}
	return uuid.NewSHA1(buildNamespace, data).String(), nil
}

// Translate turns a module set into its ordered artifact set. The last
// artifact is the build record.
func Translate(mods []*metadata.Module, opts Options) ([]emit.Artifact, error) {
	var arts []emit.Artifact
	err := Stream(mods, opts, func(a emit.Artifact) error {
		arts = append(arts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return arts, nil
}

// Stream translates a module set and hands each artifact to sink as soon
// as emission completes it, ending with the build record. Every method
// is translated before the first artifact, since generic instances are
// only known once all bodies are. The first error stops the stream.
func Stream(mods []*metadata.Module, opts Options, sink emit.Sink) error {
	id := opts.BuildID
	if id == "" {
		var err error
		if id, err = BuildID(mods); err != nil {
			return err
		}
	}

	sol, err := jit.Jit(mods, jit.Options{Jobs: opts.Jobs, MaxGenericDepth: opts.MaxGenericDepth})
	if err != nil {
		return err
	}

	methods := sol.Methods()
	if opts.Optimize {
		rewrites := 0
		for _, m := range methods {
			rewrites += optimize.Method(m.Unit).Total()
		}
		log.Infof("optimized %d methods, %d rewrites", len(methods), rewrites)
	}

	if opts.DumpIR != nil {
		for _, m := range methods {
			if err := ir.Dump(opts.DumpIR, m.Unit); err != nil {
				return fmt.Errorf("dumping %s: %w", m.Ref, err)
			}
		}
	}

	rec := &manifest.BuildRecord{ID: id, Kind: manifest.Library}
	if opts.Executable {
		rec.Kind = manifest.Executable
	}
	for _, m := range mods {
		rec.Modules = append(rec.Modules, m.Name)
	}
	e := emit.New(sol, nil, emit.Options{BuildID: id, Executable: opts.Executable})
	err = e.Stream(func(a emit.Artifact) error {
		if err := sink(a); err != nil {
			return err
		}
		rec.Artifacts = append(rec.Artifacts, a.Path)
		return nil
	})
	if err != nil {
		return err
	}
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	return sink(emit.Artifact{Path: manifest.RecordFileName, Content: data})
}

// WriteArtifacts writes arts under dir in order. Each file is written
// completely before the next; the first failure stops the run and leaves
// earlier files in place.
func WriteArtifacts(dir string, arts []emit.Artifact) error {
	for _, a := range arts {
		if err := writeArtifact(dir, a); err != nil {
			return err
		}
	}
	return nil
}

func writeArtifact(dir string, a emit.Artifact) error {
	path := filepath.Join(dir, filepath.FromSlash(a.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, a.Content, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	log.Noticef("wrote %s", path)
	return nil
}

// Load reads the primary image and appends the modules of each reference
// image whose names are not already loaded. The returned build id is
// derived from the image bytes in load order.
func Load(image string, references []string) ([]*metadata.Module, string, error) {
	var all []byte
	var mods []*metadata.Module
	seen := make(map[string]bool)
	for i, path := range append([]string{image}, references...) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("cannot read %s: %w", path, err)
		}
		loaded, err := metadata.DecodeImage(data)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, data...)
		for _, m := range loaded {
			if seen[m.Name] {
				if i > 0 {
					log.Debugf("%s: module %s already loaded", path, m.Name)
				}
				continue
			}
			seen[m.Name] = true
			mods = append(mods, m)
		}
	}
	return mods, uuid.NewSHA1(buildNamespace, all).String(), nil
}

// Run loads, translates and writes. Each artifact is written as soon as
// it is emitted, so a failure leaves the files of earlier types in place.
// It returns the artifacts written, including on failure.
func Run(cfg Config) ([]emit.Artifact, error) {
	mods, id, err := Load(cfg.Image, cfg.References)
	if err != nil {
		return nil, err
	}
	log.Infof("translating %d modules from %s", len(mods), cfg.Image)

	opts := cfg.Options
	if opts.BuildID == "" {
		opts.BuildID = id
	}
	var arts []emit.Artifact
	err = Stream(mods, opts, func(a emit.Artifact) error {
		if err := writeArtifact(cfg.OutputDir, a); err != nil {
			return err
		}
		arts = append(arts, a)
		return nil
	})
	return arts, err
}
