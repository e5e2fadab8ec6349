// Package main provides the nnet3-init tool: it initializes components
// from a configuration file and writes them to a model file.
//
// Each non-empty, non-comment line of the configuration names a
// component type and its parameters, for example:
//
//	type=Conv3DComponent input-x-dim=28 input-y-dim=28 input-z-dim=1 \
//	    filt-x-dim=5 filt-y-dim=5 filt-z-dim=1 \
//	    filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=6
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anandmoghan/kaldi/internal/config"
	"github.com/anandmoghan/kaldi/internal/dnn"
	"github.com/anandmoghan/kaldi/internal/dnn/cpu"
	"github.com/anandmoghan/kaldi/internal/dnn/webgpu"
	"github.com/anandmoghan/kaldi/internal/nnet3"
	"github.com/anandmoghan/kaldi/internal/serialization"
)

func main() {
	binary := flag.Bool("binary", true, "Write the model in binary format")
	engineName := flag.String("engine", "cpu", "Compute engine (cpu or webgpu)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: nnet3-init [options] <config-in> <model-out>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	configPath, modelPath := flag.Arg(0), flag.Arg(1)

	engine, err := newEngine(*engineName)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	components, err := initComponents(configPath, engine)
	if err != nil {
		log.Fatalf("Failed to initialize components: %v", err)
	}
	if len(components) == 0 {
		log.Fatalf("No components in %s", configPath)
	}

	w, err := serialization.NewFileWriter(modelPath, *binary)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", modelPath, err)
	}
	for _, c := range components {
		if err := c.Write(w); err != nil {
			log.Fatalf("Failed to write %s: %v", c.Type(), err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatalf("Failed to close %s: %v", modelPath, err)
	}

	fmt.Printf("Initialized %d component(s) from %s to %s\n", len(components), configPath, modelPath)
	for i, c := range components {
		fmt.Printf("  %d: %s\n", i, c.Info())
	}
}

func newEngine(name string) (dnn.Engine, error) {
	switch name {
	case "cpu":
		return cpu.New(), nil
	case "webgpu":
		return webgpu.New()
	default:
		return nil, fmt.Errorf("unknown engine %q, expected cpu or webgpu", name)
	}
}

// initComponents reads the configuration file and initializes one
// component per line. Blank lines and # comments are skipped.
func initComponents(path string, engine dnn.Engine) ([]nnet3.Component, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var components []nnet3.Component
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cfl, err := config.ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		typeName, err := cfl.RequiredString("type")
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		c, err := nnet3.NewComponentOfType(typeName, engine)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if err := c.InitFromConfig(cfl); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		components = append(components, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return components, nil
}
