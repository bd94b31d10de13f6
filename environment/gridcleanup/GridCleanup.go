// Package gridcleanup implements a 2D cleanup gridworld. An agent
// moves around a grid scattered with dirt piles and phones, cleaning
// them up by interacting with the cell it stands on. A button cell
// pays a fixed bonus when pressed and permutes the positions of all
// remaining items.
//
// Besides the main reward, every step reports auxiliary reward
// channels describing task progress (dirt cleaned, phones cleaned,
// button presses, overall performance) in its step metadata, along
// with two diagnostic values that are passed through to training logs
// verbatim.
package gridcleanup

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/gorollout/environment"
)

// Auxiliary reward channels reported in step metadata
const (
	DirtCleaned   string = "dirt_cleaned"
	PhonesCleaned string = "phones_cleaned"
	ButtonPresses string = "button_presses"
	Performance   string = "performance"
)

// Diagnostic keys passed through to logs verbatim
const (
	PermuteCount string = "permute_count"
	ButtonValue  string = "button_value"
)

// Channels lists every auxiliary channel the environment reports
func Channels() []string {
	return []string{DirtCleaned, PhonesCleaned, ButtonPresses, Performance}
}

// Diagnostics lists the pass-through diagnostic keys
func Diagnostics() []string {
	return []string{PermuteCount, ButtonValue}
}

// Cell contents as encoded in observations
const (
	empty float64 = iota
	dirt
	phone
	button
)

// Rewards for cleaning each item type
const (
	dirtReward  float64 = 1.0
	phoneReward float64 = 0.5
)

// Actions available to the agent
const (
	up int = iota
	down
	left
	right
	interact
	numActions
)

// GridCleanup implements the cleanup gridworld. The grid is
// represented as a flattened matrix of cell contents, with the agent
// position tracked separately.
type GridCleanup struct {
	rows, cols int
	numDirt    int
	numPhones  int

	cells    []float64 // flattened grid, row major
	agentRow int
	agentCol int

	buttonValue  float64
	cutoff       int
	currentStep  int
	cleaned      int // items cleaned this episode
	permuteCount int // times the button permuted items this episode

	rowDist distuv.Uniform
	colDist distuv.Uniform
	rng     *rand.Rand
}

// New creates and returns a new GridCleanup environment with the given
// grid dimensions, item counts, button bonus, and episode step cutoff.
// The environment starts ready to use.
func New(rows, cols, numDirt, numPhones int, buttonValue float64,
	cutoff int, seed uint64) (*GridCleanup, error) {
	if rows < 2 || cols < 2 {
		return nil, fmt.Errorf("new: grid must be at least 2x2, have %dx%d",
			rows, cols)
	}
	if numDirt+numPhones+2 > rows*cols {
		return nil, fmt.Errorf("new: %d items cannot fit on a %dx%d grid",
			numDirt+numPhones, rows, cols)
	}
	if cutoff <= 0 {
		return nil, fmt.Errorf("new: episode cutoff must be positive")
	}

	source := rand.NewSource(seed)
	g := &GridCleanup{
		rows:        rows,
		cols:        cols,
		numDirt:     numDirt,
		numPhones:   numPhones,
		cells:       make([]float64, rows*cols),
		buttonValue: buttonValue,
		cutoff:      cutoff,
		rowDist:     distuv.Uniform{Min: 0, Max: float64(rows), Src: source},
		colDist:     distuv.Uniform{Min: 0, Max: float64(cols), Src: source},
		rng:         rand.New(source),
	}
	if _, err := g.Reset(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	return g, nil
}

// ObservationSize returns the length of observation vectors: one value
// per grid cell plus the agent's row and column.
func (g *GridCleanup) ObservationSize() int {
	return g.rows*g.cols + 2
}

// NumActions returns the number of discrete actions
func (g *GridCleanup) NumActions() int {
	return numActions
}

// Reset resets the environment between episodes, placing the agent,
// the items, and the button uniformly at random on the grid.
func (g *GridCleanup) Reset() (mat.Vector, error) {
	for i := range g.cells {
		g.cells[i] = empty
	}
	g.currentStep = 0
	g.cleaned = 0
	g.permuteCount = 0

	g.agentRow = int(g.rowDist.Rand())
	g.agentCol = int(g.colDist.Rand())

	g.scatter(dirt, g.numDirt)
	g.scatter(phone, g.numPhones)
	g.scatter(button, 1)

	return g.observation(), nil
}

// Step takes one action in the environment
func (g *GridCleanup) Step(action int) (mat.Vector, float64, bool,
	environment.Info, error) {
	if action < 0 || action >= numActions {
		return nil, 0, false, nil, fmt.Errorf("step: illegal action %d",
			action)
	}

	var reward float64
	var dirtNow, phonesNow, pressesNow float64

	switch action {
	case up:
		if g.agentRow > 0 {
			g.agentRow--
		}
	case down:
		if g.agentRow < g.rows-1 {
			g.agentRow++
		}
	case left:
		if g.agentCol > 0 {
			g.agentCol--
		}
	case right:
		if g.agentCol < g.cols-1 {
			g.agentCol++
		}
	case interact:
		here := g.agentRow*g.cols + g.agentCol
		switch g.cells[here] {
		case dirt:
			g.cells[here] = empty
			g.cleaned++
			reward += dirtReward
			dirtNow = 1
		case phone:
			g.cells[here] = empty
			g.cleaned++
			reward += phoneReward
			phonesNow = 1
		case button:
			reward += g.buttonValue
			pressesNow = 1
			g.permute()
		}
	}

	g.currentStep++
	done := g.cleaned == g.numDirt+g.numPhones || g.currentStep >= g.cutoff

	info := environment.Info{
		DirtCleaned:   dirtNow,
		PhonesCleaned: phonesNow,
		ButtonPresses: pressesNow,
		Performance:   float64(g.cleaned) / float64(g.numDirt+g.numPhones),
		PermuteCount:  float64(g.permuteCount),
		ButtonValue:   g.buttonValue,
	}

	return g.observation(), reward, done, info, nil
}

// At returns the contents of cell (i, j)
func (g *GridCleanup) At(i, j int) float64 {
	return g.cells[i*g.cols+j]
}

// observation returns the current state as a dense vector: the cell
// contents in row major order followed by the agent's row and column
func (g *GridCleanup) observation() mat.Vector {
	data := make([]float64, g.ObservationSize())
	copy(data, g.cells)
	data[g.rows*g.cols] = float64(g.agentRow)
	data[g.rows*g.cols+1] = float64(g.agentCol)
	return mat.NewVecDense(len(data), data)
}

// scatter places n items of the given kind on distinct empty cells
func (g *GridCleanup) scatter(kind float64, n int) {
	for placed := 0; placed < n; {
		cell := g.rng.Intn(len(g.cells))
		if g.cells[cell] != empty {
			continue
		}
		g.cells[cell] = kind
		placed++
	}
}

// permute moves every remaining item, button included, to a fresh
// random empty cell. Pressing the button shuffles the work left to do.
func (g *GridCleanup) permute() {
	g.permuteCount++

	var kinds []float64
	for i, cell := range g.cells {
		if cell != empty {
			kinds = append(kinds, cell)
			g.cells[i] = empty
		}
	}
	for _, kind := range kinds {
		g.scatter(kind, 1)
	}
}
