// il2x translates a metadata image into portable C source.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/reignstudios/il2x/driver"
	"github.com/reignstudios/il2x/manifest"
)

// countFlag counts repeated boolean flags such as -v -v.
type countFlag int

func (c *countFlag) String() string { return strconv.Itoa(int(*c)) }

func (c *countFlag) Set(s string) error {
	if s == "true" {
		*c++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*c = countFlag(n)
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

func main() {
	var verbosity countFlag
	outDir := flag.String("o", "", "Output directory (default from il2x.toml, else "+manifest.DefaultOutputDir+")")
	optimize := flag.Bool("O", true, "Run the peephole optimizer")
	jobs := flag.Int("j", 1, "Parallel method translation jobs")
	dumpIR := flag.Bool("dump-ir", false, "Print the IR of every translated method")
	kind := flag.String("kind", "", "Project kind: executable or library")
	flag.Var(&verbosity, "v", "Increase log verbosity (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: il2x [options] [image]\n\n")
		fmt.Fprintf(os.Stderr, "Translates a metadata image to C. Without an image argument,\n")
		fmt.Fprintf(os.Stderr, "the nearest il2x.toml supplies the inputs.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  il2x                          # Build the project in the current directory\n")
		fmt.Fprintf(os.Stderr, "  il2x -kind executable app.ilm # Translate app.ilm with a main.c\n")
		fmt.Fprintf(os.Stderr, "  il2x -O=false -dump-ir app.ilm\n")
	}
	flag.Parse()

	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := configure(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the manifest.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.outDir = *outDir
		case "O":
			cfg.run.Options.Optimize = *optimize
		case "j":
			cfg.run.Options.Jobs = *jobs
		case "dump-ir":
			cfg.dumpIR = *dumpIR
		case "kind":
			cfg.kind = *kind
		case "v":
			cfg.verbosity = int(verbosity)
		}
	})

	switch cfg.kind {
	case manifest.Executable, manifest.Library:
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown project kind %q\n", cfg.kind)
		os.Exit(1)
	}

	if cfg.logFile != "" {
		commonlog.Configure(cfg.verbosity, &cfg.logFile)
	} else {
		commonlog.Configure(cfg.verbosity, nil)
	}

	cfg.run.OutputDir = cfg.outDir
	cfg.run.Options.Executable = cfg.kind == manifest.Executable
	if cfg.dumpIR {
		cfg.run.Options.DumpIR = os.Stdout
	}

	arts, err := driver.Run(cfg.run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d files to %s\n", len(arts), cfg.outDir)
}

type settings struct {
	run       driver.Config
	outDir    string
	kind      string
	dumpIR    bool
	verbosity int
	logFile   string
}

// configure builds settings from an explicit image, or from the nearest
// manifest when image is empty.
func configure(image string) (*settings, error) {
	s := &settings{
		outDir: manifest.DefaultOutputDir,
		kind:   manifest.Library,
		run: driver.Config{
			Image:   image,
			Options: driver.Options{Optimize: true, Jobs: 1},
		},
	}
	if image != "" {
		return s, nil
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no image given and no %s found", manifest.FileName)
	}

	images, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		return nil, err
	}
	s.run.Image = images[0].Path
	for _, img := range images[1:] {
		s.run.References = append(s.run.References, img.Path)
	}
	s.outDir = m.OutputDir()
	s.kind = m.Project.Kind
	s.dumpIR = m.Translate.DumpIR
	s.verbosity = m.Log.Verbosity
	s.logFile = m.LogFile()
	s.run.Options.Optimize = m.Translate.Optimize
	s.run.Options.Jobs = m.Translate.Jobs
	return s, nil
}
