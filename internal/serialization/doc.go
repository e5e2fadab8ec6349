// Package serialization reads and writes the tagged token streams used by
// model files.
//
// A stream is a flat sequence of tokens and basic values. Tokens are
// whitespace-free ASCII strings (by convention angle-bracketed tags such as
// "<LearningRate>") written with a single trailing space. Basic values
// follow the token that names them. Every stream exists in one of two
// modes:
//
//	Binary mode:
//	  [2 bytes: "\0B" file preamble (file streams only)]
//	  token:   ASCII bytes + ' '
//	  int32:   [1 byte: 4] [4 bytes: little-endian value]
//	  float32: [1 byte: 4] [4 bytes: little-endian value]
//	  bool:    [1 byte: 'T' or 'F']
//
//	Text mode:
//	  token:   ASCII bytes + ' '
//	  int32:   decimal digits + ' '
//	  float32: shortest round-trip decimal + ' '
//	  bool:    "T " or "F "
//
// The mode of a file is detected from the preamble: files beginning with
// "\0B" are binary, everything else is text. Embedded streams (a component
// inside a larger model file) inherit the mode of their container.
//
// Example usage:
//
//	w, err := serialization.NewFileWriter("model.raw", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w.WriteToken("<Dim>")
//	w.WriteInt32(40)
//	if err := w.Close(); err != nil {
//	    log.Fatal(err)
//	}
package serialization
