// Package eager implements the define-by-run model. Parameters persist across
// steps while every step builds a fresh gorgonia expression graph from the
// layer definitions and evaluates it immediately on a LispMachine, which
// also backpropagates from the loss.
package eager

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// pass is the expression graph of one training step.
type pass struct {
	g      *G.ExprGraph
	params []*tensor.Dense
	nodes  G.Nodes
}

func newPass() *pass {
	return &pass{g: G.NewGraph()}
}

// bind adds a persistent parameter to the step graph.
func (p *pass) bind(t *tensor.Dense, name string) *G.Node {
	n := G.NodeFromAny(p.g, t, G.WithName(name))
	p.params = append(p.params, t)
	p.nodes = append(p.nodes, n)
	return n
}

// sync copies updated node values back into the persistent parameters.
func (p *pass) sync() error {
	for i, n := range p.nodes {
		src, ok := n.Value().Data().([]float32)
		if !ok {
			return errors.Errorf("parameter %s holds %T", n.Name(), n.Value().Data())
		}
		copy(p.params[i].Data().([]float32), src)
	}
	return nil
}

// Conv2d is a 2-D convolution without padding or bias.
type Conv2d struct {
	Name   string
	Weight *tensor.Dense
	Kernel int
	Stride int
}

// NewConv2d draws weights uniformly from ±1/sqrt(in*kernel*kernel).
func NewConv2d(rng *rand.Rand, name string, in, out, kernel, stride int) *Conv2d {
	return &Conv2d{
		Name:   name,
		Weight: uniform(rng, in*kernel*kernel, out, in, kernel, kernel),
		Kernel: kernel,
		Stride: stride,
	}
}

func (l *Conv2d) apply(p *pass, x *G.Node) (*G.Node, error) {
	w := p.bind(l.Weight, l.Name+"_w")
	h, err := G.Conv2d(x, w, tensor.Shape{l.Kernel, l.Kernel},
		[]int{0, 0}, []int{l.Stride, l.Stride}, []int{1, 1})
	return h, errors.Wrap(err, l.Name)
}

func (l *Conv2d) Parameters() []*tensor.Dense {
	return []*tensor.Dense{l.Weight}
}

// Linear maps a (1, in) row to (1, out).
type Linear struct {
	Name   string
	Weight *tensor.Dense
	Bias   *tensor.Dense
}

func NewLinear(rng *rand.Rand, name string, in, out int) *Linear {
	return &Linear{
		Name:   name,
		Weight: uniform(rng, in, in, out),
		Bias:   uniform(rng, in, 1, out),
	}
}

func (l *Linear) apply(p *pass, x *G.Node) (*G.Node, error) {
	w := p.bind(l.Weight, l.Name+"_w")
	b := p.bind(l.Bias, l.Name+"_b")
	h, err := G.Mul(x, w)
	if err != nil {
		return nil, errors.Wrap(err, l.Name)
	}
	h, err = G.Add(h, b)
	return h, errors.Wrap(err, l.Name)
}

func (l *Linear) Parameters() []*tensor.Dense {
	return []*tensor.Dense{l.Weight, l.Bias}
}

func uniform(rng *rand.Rand, fanIn int, shape ...int) *tensor.Dense {
	bound := 1 / math.Sqrt(float64(fanIn))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: exprand.NewSource(rng.Uint64())}

	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
