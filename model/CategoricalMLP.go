package model

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// CategoricalMLP is a feedforward actor-critic model for discrete
// action spaces. A shared MLP trunk feeds two heads: a policy head
// producing one logit per action and a value head producing a scalar
// state value estimate.
//
// The model is not recurrent. Its computational graph holds forward
// operations only, so evaluating it can never accumulate gradients.
type CategoricalMLP struct {
	graph *G.ExprGraph
	vm    G.VM

	input     *G.Node
	logitsVal G.Value
	valueVal  G.Value

	batch      int
	features   int
	numActions int

	src rand.Source // Source for action sampling
}

// NewCategoricalMLP creates and returns a new CategoricalMLP that
// evaluates batches of exactly batch observations of length features,
// producing numActions logits per observation. Hidden layers use tanh
// activations and Glorot-initialized weights.
func NewCategoricalMLP(features, numActions, batch int, hiddenSizes []int,
	seed uint64) (*CategoricalMLP, error) {
	if features <= 0 {
		return nil, fmt.Errorf("newCategoricalMLP: features must be positive")
	}
	if numActions <= 0 {
		return nil, fmt.Errorf("newCategoricalMLP: numActions must be " +
			"positive")
	}
	if batch <= 0 {
		return nil, fmt.Errorf("newCategoricalMLP: batch must be positive")
	}

	g := G.NewGraph()
	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, features),
		G.WithName("Observations"),
	)

	// Shared trunk
	out := input
	in := features
	for l, size := range hiddenSizes {
		if size <= 0 {
			return nil, fmt.Errorf("newCategoricalMLP: illegal hidden layer "+
				"size %d at layer %d", size, l)
		}
		out = fcLayer(g, out, in, size, fmt.Sprintf("Hidden%d", l), true)
		in = size
	}

	logits := fcLayer(g, out, in, numActions, "Policy", false)
	value := fcLayer(g, out, in, 1, "Value", false)

	m := &CategoricalMLP{
		graph:      g,
		input:      input,
		batch:      batch,
		features:   features,
		numActions: numActions,
		src:        rand.NewSource(seed),
	}
	G.Read(logits, &m.logitsVal)
	G.Read(value, &m.valueVal)
	m.vm = G.NewTapeMachine(g)

	return m, nil
}

// fcLayer adds a fully connected layer to the graph, optionally
// followed by a tanh activation
func fcLayer(g *G.ExprGraph, x *G.Node, in, out int, name string,
	activate bool) *G.Node {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(name+"Weights"),
		G.WithInit(G.GlorotU(1.0)),
	)
	bias := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(out),
		G.WithName(name+"Bias"),
		G.WithInit(G.Zeroes()),
	)

	// Broadcast the bias weights to all samples along the batch
	// dimension
	pred := G.Must(G.Mul(x, weights))
	pred = G.Must(G.BroadcastAdd(pred, bias, nil, []byte{0}))
	if activate {
		pred = G.Must(G.Tanh(pred))
	}
	return pred
}

// Recurrent returns whether the model propagates a recurrent memory
// between steps; a CategoricalMLP never does.
func (m *CategoricalMLP) Recurrent() bool {
	return false
}

// MemorySize returns the length of per-process memory vectors
func (m *CategoricalMLP) MemorySize() int {
	return 0
}

// Batch returns the batch size the model was constructed with
func (m *CategoricalMLP) Batch() int {
	return m.batch
}

// Forward evaluates the model on a batch of observations, one
// observation per row, returning the action distribution and state
// value estimate for each row. The memory argument must be nil.
func (m *CategoricalMLP) Forward(obs *mat.Dense, memory *mat.Dense) (
	Distribution, *mat.VecDense, *mat.Dense, error) {
	if memory != nil {
		return nil, nil, nil, fmt.Errorf("forward: model is not recurrent " +
			"but was given a memory")
	}

	rows, cols := obs.Dims()
	if rows != m.batch || cols != m.features {
		return nil, nil, nil, fmt.Errorf("forward: illegal input shape "+
			"\n\twant(%dx%d)\n\thave(%dx%d)", m.batch, m.features, rows, cols)
	}

	backing := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(backing[i*cols:(i+1)*cols], obs.RawRowView(i))
	}
	input := tensor.New(
		tensor.WithShape(m.batch, m.features),
		tensor.WithBacking(backing),
	)

	if err := G.Let(m.input, input); err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not set input: %v",
			err)
	}
	if err := m.vm.RunAll(); err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not run tape: %v",
			err)
	}
	defer m.vm.Reset()

	logitsData := m.logitsVal.Data().([]float64)
	logits := mat.NewDense(m.batch, m.numActions, nil)
	for i := 0; i < m.batch; i++ {
		copy(logits.RawRowView(i),
			logitsData[i*m.numActions:(i+1)*m.numActions])
	}

	valueData := m.valueVal.Data().([]float64)
	value := mat.NewVecDense(m.batch, nil)
	for i := 0; i < m.batch; i++ {
		value.SetVec(i, valueData[i])
	}

	return NewCategorical(logits, m.src), value, nil, nil
}

// Close releases the tape machine backing the model
func (m *CategoricalMLP) Close() error {
	return m.vm.Close()
}
