// Package graph implements the dataflow-graph model: the network, its loss
// and its gradients are declared once as a gorgonia expression graph and
// every step only binds new input values and runs the compiled programs.
package graph

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	imageSide  = 28
	numClasses = 10
	logEps     = 1e-7
)

// Net is conv(1→32, 5x5, s2) → tanh → conv(32→2, 5x5, s2) → relu → dense(32→10) → softmax,
// trained with binary cross-entropy against a one-hot target.
type Net struct {
	g *G.ExprGraph

	x, y, yInv *G.Node
	pred, cost *G.Node
	learnables G.Nodes

	predict G.VM
	train   G.VM
	solver  G.Solver

	ready bool
	probs []float32
}

// NewNet builds and compiles the graph. Weights are drawn uniformly from
// ±1/sqrt(fan_in) using rng.
func NewNet(rng *rand.Rand, lr float64) (*Net, error) {
	n := &Net{g: G.NewGraph()}
	g := n.g

	n.x = G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, 1, imageSide, imageSide), G.WithName("x"))
	n.y = G.NewMatrix(g, tensor.Float32, G.WithShape(1, numClasses), G.WithName("y"))
	n.yInv = G.NewMatrix(g, tensor.Float32, G.WithShape(1, numClasses), G.WithName("y_inv"))

	w0 := weights(g, rng, "w0", 1*5*5, 32, 1, 5, 5)
	w1 := weights(g, rng, "w1", 32*5*5, 2, 32, 5, 5)
	w2 := weights(g, rng, "w2", 32, 32, numClasses)
	b2 := weights(g, rng, "b2", 32, 1, numClasses)
	n.learnables = G.Nodes{w0, w1, w2, b2}

	var err error
	if n.pred, err = n.build(w0, w1, w2, b2); err != nil {
		return nil, errors.Wrap(err, "build network")
	}
	if n.cost, err = n.loss(); err != nil {
		return nil, errors.Wrap(err, "build loss")
	}
	if _, err = G.Grad(n.cost, n.learnables...); err != nil {
		return nil, errors.Wrap(err, "symbolic gradients")
	}

	n.predict = G.NewTapeMachine(g.SubgraphRoots(n.pred))
	n.train = G.NewTapeMachine(g, G.BindDualValues(n.learnables...))
	n.solver = G.NewVanillaSolver(G.WithLearnRate(lr))
	return n, nil
}

func weights(g *G.ExprGraph, rng *rand.Rand, name string, fanIn int, shape ...int) *G.Node {
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
	val := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return G.NewTensor(g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName(name), G.WithValue(val))
}

func (n *Net) build(w0, w1, w2, b2 *G.Node) (*G.Node, error) {
	kernel := tensor.Shape{5, 5}
	pad, stride, dilation := []int{0, 0}, []int{2, 2}, []int{1, 1}

	h, err := G.Conv2d(n.x, w0, kernel, pad, stride, dilation)
	if err != nil {
		return nil, errors.Wrap(err, "conv0")
	}
	if h, err = G.Tanh(h); err != nil {
		return nil, err
	}
	if h, err = G.Conv2d(h, w1, kernel, pad, stride, dilation); err != nil {
		return nil, errors.Wrap(err, "conv1")
	}
	if h, err = G.Rectify(h); err != nil {
		return nil, err
	}
	if h, err = G.Reshape(h, tensor.Shape{1, 32}); err != nil {
		return nil, errors.Wrap(err, "flatten")
	}
	if h, err = G.Mul(h, w2); err != nil {
		return nil, errors.Wrap(err, "dense")
	}
	if h, err = G.Add(h, b2); err != nil {
		return nil, errors.Wrap(err, "dense bias")
	}
	return G.SoftMax(h)
}

// loss is -mean(y*log(p+eps) + (1-y)*log(1-p+eps)). 1-y is fed as its own
// input and the constants are full tensors to keep every op elementwise.
func (n *Net) loss() (*G.Node, error) {
	eps := G.NewConstant(filled(logEps), G.WithName("eps"))
	ones := G.NewConstant(filled(1), G.WithName("ones"))

	logP, err := G.Log(G.Must(G.Add(n.pred, eps)))
	if err != nil {
		return nil, err
	}
	logQ, err := G.Log(G.Must(G.Add(G.Must(G.Sub(ones, n.pred)), eps)))
	if err != nil {
		return nil, err
	}
	pos, err := G.HadamardProd(n.y, logP)
	if err != nil {
		return nil, err
	}
	neg, err := G.HadamardProd(n.yInv, logQ)
	if err != nil {
		return nil, err
	}
	sum, err := G.Add(pos, neg)
	if err != nil {
		return nil, err
	}
	mean, err := G.Mean(sum)
	if err != nil {
		return nil, err
	}
	return G.Neg(mean)
}

func filled(v float32) *tensor.Dense {
	data := make([]float32, numClasses)
	for i := range data {
		data[i] = v
	}
	return tensor.New(tensor.WithShape(1, numClasses), tensor.WithBacking(data))
}

// Forward binds the image and its one-hot target and runs the prediction
// program.
func (n *Net) Forward(input []float32, class int) error {
	if len(input) != imageSide*imageSide {
		return errors.Errorf("expected %d input values, got %d", imageSide*imageSide, len(input))
	}
	if class < 0 || class >= numClasses {
		return errors.Errorf("class %d outside [0, %d)", class, numClasses)
	}

	img := tensor.New(tensor.WithShape(1, 1, imageSide, imageSide), tensor.WithBacking(append([]float32(nil), input...)))
	target := make([]float32, numClasses)
	inverse := make([]float32, numClasses)
	for i := range target {
		inverse[i] = 1
	}
	target[class], inverse[class] = 1, 0

	if err := G.Let(n.x, img); err != nil {
		return errors.Wrap(err, "bind input")
	}
	if err := G.Let(n.y, tensor.New(tensor.WithShape(1, numClasses), tensor.WithBacking(target))); err != nil {
		return errors.Wrap(err, "bind target")
	}
	if err := G.Let(n.yInv, tensor.New(tensor.WithShape(1, numClasses), tensor.WithBacking(inverse))); err != nil {
		return errors.Wrap(err, "bind target")
	}

	defer n.predict.Reset()
	if err := n.predict.RunAll(); err != nil {
		return errors.Wrap(err, "run prediction")
	}
	// the tape hands its values back to the pool on Reset
	probs, ok := n.pred.Value().Data().([]float32)
	if !ok {
		return errors.Errorf("unexpected prediction type %T", n.pred.Value().Data())
	}
	n.probs = append(n.probs[:0], probs...)
	n.ready = true
	return nil
}

// Backward runs the loss and gradient program for the bound step and applies
// one SGD update. The program re-evaluates the prediction on the way to the
// loss since gorgonia tapes cannot resume from another machine's values, so
// the measured backward time includes a second forward pass.
func (n *Net) Backward() (float64, error) {
	if !n.ready {
		return 0, errors.New("backward called before forward")
	}
	n.ready = false

	defer n.train.Reset()
	if err := n.train.RunAll(); err != nil {
		return 0, errors.Wrap(err, "run gradients")
	}
	if err := n.solver.Step(G.NodesToValueGrads(n.learnables)); err != nil {
		return 0, errors.Wrap(err, "sgd step")
	}
	return scalar(n.cost.Value())
}

// Probabilities returns a copy of the class probabilities of the last
// Forward.
func (n *Net) Probabilities() ([]float32, error) {
	if n.probs == nil {
		return nil, errors.New("no prediction yet")
	}
	return append([]float32(nil), n.probs...), nil
}

// Close releases both compiled programs.
func (n *Net) Close() error {
	n.predict.Close()
	return n.train.Close()
}

func scalar(v G.Value) (float64, error) {
	if v == nil {
		return 0, errors.New("loss not computed")
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d), nil
	case float64:
		return d, nil
	case []float32:
		if len(d) == 1 {
			return float64(d[0]), nil
		}
	}
	return 0, errors.Errorf("loss is not a scalar: %v", v)
}
