package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Categorical is a batch of categorical distributions over discrete
// actions, one distribution per row of logits. Sampling is performed
// with gonum's categorical distribution seeded from a shared source.
type Categorical struct {
	logProbs *mat.Dense // log-softmax of the logits, row major
	src      rand.Source
}

// NewCategorical creates and returns a batch of categorical
// distributions from unnormalized logits, one row per distribution
func NewCategorical(logits *mat.Dense, src rand.Source) *Categorical {
	rows, cols := logits.Dims()
	logProbs := mat.NewDense(rows, cols, nil)

	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		out := logProbs.RawRowView(i)

		// Numerically stable log-softmax
		max := floats.Max(row)
		var sumExp float64
		for _, logit := range row {
			sumExp += math.Exp(logit - max)
		}
		logSumExp := max + math.Log(sumExp)
		for j, logit := range row {
			out[j] = logit - logSumExp
		}
	}

	return &Categorical{logProbs: logProbs, src: src}
}

// Batch returns the number of distributions in the batch
func (c *Categorical) Batch() int {
	rows, _ := c.logProbs.Dims()
	return rows
}

// NumActions returns the number of discrete actions per distribution
func (c *Categorical) NumActions() int {
	_, cols := c.logProbs.Dims()
	return cols
}

// Sample samples one action per distribution in the batch
func (c *Categorical) Sample() []int {
	rows, cols := c.logProbs.Dims()
	actions := make([]int, rows)
	weights := make([]float64, cols)

	for i := 0; i < rows; i++ {
		for j, logProb := range c.logProbs.RawRowView(i) {
			weights[j] = math.Exp(logProb)
		}
		dist := distuv.NewCategorical(weights, c.src)
		actions[i] = int(dist.Rand())
	}

	return actions
}

// LogProb returns the log probability of each action under the
// corresponding distribution in the batch
func (c *Categorical) LogProb(actions []int) []float64 {
	logProbs := make([]float64, len(actions))
	for i, action := range actions {
		logProbs[i] = c.logProbs.At(i, action)
	}
	return logProbs
}

// Entropy returns the entropy of each distribution in the batch
func (c *Categorical) Entropy() []float64 {
	rows, _ := c.logProbs.Dims()
	entropy := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var h float64
		for _, logProb := range c.logProbs.RawRowView(i) {
			h -= math.Exp(logProb) * logProb
		}
		entropy[i] = h
	}
	return entropy
}
