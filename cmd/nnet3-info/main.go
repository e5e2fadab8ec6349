// Package main provides the nnet3-info tool: it prints a summary of each
// component in a model file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/anandmoghan/kaldi/internal/dnn/cpu"
	"github.com/anandmoghan/kaldi/internal/nnet3"
	"github.com/anandmoghan/kaldi/internal/serialization"
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nnet3-info <model-in>")
		os.Exit(2)
	}
	modelPath := flag.Arg(0)

	r, err := serialization.NewFileReader(modelPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", modelPath, err)
	}
	defer r.Close()

	engine := cpu.New()
	for i := 0; ; i++ {
		c, err := nnet3.ReadComponent(r, engine)
		if errors.Is(err, io.EOF) {
			if i == 0 {
				log.Fatalf("No components in %s", modelPath)
			}
			break
		}
		if err != nil {
			log.Fatalf("Failed to read component %d: %v", i, err)
		}
		fmt.Printf("component %d: %s\n", i, c.Info())
	}
}
