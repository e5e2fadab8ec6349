// Package nnet3 implements trainable neural-network components. A
// component is one node of a network graph: the surrounding executor
// drives its Propagate/Backprop lifecycle and loads or saves it through
// the tagged stream format in internal/serialization. Components that
// carry parameters additionally satisfy UpdatableComponent, which is
// what optimizers program against.
package nnet3

import (
	"fmt"
	"strings"

	"github.com/anandmoghan/kaldi/internal/config"
	"github.com/anandmoghan/kaldi/internal/dnn"
	"github.com/anandmoghan/kaldi/internal/matrix"
	"github.com/anandmoghan/kaldi/internal/serialization"
)

// ComponentProperties is a bitmask describing how the executor may
// drive a component.
type ComponentProperties int32

const (
	// SimpleComponent processes one input row into one output row with
	// no reordering or context.
	SimpleComponent ComponentProperties = 1 << iota
	// UpdatableComponentFlag marks components with trainable parameters.
	UpdatableComponentFlag
	// PropagateAdds means Propagate accumulates into the output, so the
	// caller must zero it first unless accumulation is wanted.
	PropagateAdds
	// BackpropAdds means Backprop accumulates into the input derivative.
	BackpropAdds
	// BackpropNeedsInput means Backprop reads the forward-pass input.
	BackpropNeedsInput
)

// Component is the interface the network executor drives. Instances are
// not safe for concurrent use; callers either serialize calls or give
// each execution context its own Copy.
type Component interface {
	// Type returns the component type name as it appears in model files.
	Type() string

	// Properties reports how the executor may drive this component.
	Properties() ComponentProperties

	// InputDim returns the number of columns Propagate expects per row.
	InputDim() int

	// OutputDim returns the number of columns Propagate produces per row.
	OutputDim() int

	// Info returns a one-line diagnostic string of the hyperparameters
	// and parameter statistics.
	Info() string

	// InitFromConfig configures and initializes a freshly constructed
	// component from one key=value line.
	InitFromConfig(cfl *config.Line) error

	// Propagate runs the forward pass on a minibatch, one example per
	// row, adding the result into out.
	Propagate(in, out *matrix.Matrix) error

	// Backprop propagates outDeriv back through the component. inDeriv,
	// when non-nil, is accumulated into. toUpdate, when non-nil,
	// receives the parameter-gradient contribution; it may be the
	// component itself.
	Backprop(inValue, outDeriv *matrix.Matrix, toUpdate Component, inDeriv *matrix.Matrix) error

	// Read replaces the component's state from a model stream. The
	// opening type tag may or may not have been consumed already.
	Read(r *serialization.Reader) error

	// Write emits the component to a model stream.
	Write(w *serialization.Writer) error

	// Copy returns a deep copy that shares no mutable state.
	Copy() Component
}

// UpdatableComponent is a Component with trainable parameters.
type UpdatableComponent interface {
	Component

	LearningRate() float32
	SetLearningRate(lr float32)

	// Scale multiplies every parameter by alpha.
	Scale(alpha float32)

	// Add accumulates alpha times other's parameters into the receiver.
	// other must be the same concrete type.
	Add(alpha float32, other Component) error

	// SetZero zeroes the parameters. With treatAsGradient set, the
	// component becomes a gradient accumulator.
	SetZero(treatAsGradient bool)

	// PerturbParams adds zero-mean Gaussian noise, scaled by stddev, to
	// every parameter in place.
	PerturbParams(stddev float32)

	// Vectorize copies the parameters into params, which must have
	// exactly NumParameters elements.
	Vectorize(params *matrix.Vector) error

	// UnVectorize replaces the parameters from params.
	UnVectorize(params *matrix.Vector) error

	// NumParameters returns the total trainable parameter count.
	NumParameters() int

	// DotProduct returns the inner product of the receiver's and other's
	// parameter vectors. other must be the same concrete type.
	DotProduct(other Component) (float32, error)
}

// ComponentMismatchError reports a typed peer operation (Add, DotProduct
// or a Backprop update) that was handed a component of a different
// concrete type.
type ComponentMismatchError struct {
	Op   string
	Want string
	Got  string
}

func (e *ComponentMismatchError) Error() string {
	return fmt.Sprintf("nnet3: %s needs a %s, got %s", e.Op, e.Want, e.Got)
}

// Factory constructs an empty component bound to an engine, ready for
// InitFromConfig or Read.
type Factory func(e dnn.Engine) Component

var registry = map[string]Factory{}

// RegisterComponent makes a component type constructible by name.
// Typically called from an init function in the component's file.
func RegisterComponent(typeName string, f Factory) {
	registry[typeName] = f
}

// NewComponentOfType constructs an empty component by type name.
func NewComponentOfType(typeName string, e dnn.Engine) (Component, error) {
	f, ok := registry[typeName]
	if !ok {
		return nil, fmt.Errorf("nnet3: unknown component type %q", typeName)
	}
	return f(e), nil
}

// ReadComponent reads the next component from a model stream: it peeks
// the opening type tag, constructs the matching component and hands the
// stream over to its Read method.
func ReadComponent(r *serialization.Reader, e dnn.Engine) (Component, error) {
	tok, err := r.ReadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to read component tag: %w", err)
	}
	if len(tok) < 3 || !strings.HasPrefix(tok, "<") || !strings.HasSuffix(tok, ">") {
		return nil, fmt.Errorf("nnet3: expected a component opening tag, got %q", tok)
	}
	c, err := NewComponentOfType(tok[1:len(tok)-1], e)
	if err != nil {
		return nil, err
	}
	if err := c.Read(r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.Type(), err)
	}
	return c, nil
}
