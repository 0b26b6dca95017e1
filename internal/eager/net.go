package eager

import (
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	imageSide  = 28
	numClasses = 10
	logEps     = 1e-7
)

// Net is conv(1→32, 5x5, s2) → tanh → conv(32→2, 5x5, s2) → flatten → linear(32→10) → relu,
// trained with cross-entropy and SGD.
type Net struct {
	conv1  *Conv2d
	conv2  *Conv2d
	fc     *Linear
	solver G.Solver

	cur    *pass
	scores *G.Node
	class  int
}

// NewNet initializes the network from rng with the given learning rate.
func NewNet(rng *rand.Rand, lr float64) *Net {
	return &Net{
		conv1:  NewConv2d(rng, "conv1", 1, 32, 5, 2),
		conv2:  NewConv2d(rng, "conv2", 32, 2, 5, 2),
		fc:     NewLinear(rng, "fc", 32, numClasses),
		solver: G.NewVanillaSolver(G.WithLearnRate(lr)),
	}
}

// Parameters returns the persistent trainable tensors.
func (n *Net) Parameters() []*tensor.Dense {
	var out []*tensor.Dense
	out = append(out, n.conv1.Parameters()...)
	out = append(out, n.conv2.Parameters()...)
	return append(out, n.fc.Parameters()...)
}

func (n *Net) predict(p *pass, x *G.Node) (*G.Node, error) {
	h, err := n.conv1.apply(p, x)
	if err != nil {
		return nil, err
	}
	if h, err = G.Tanh(h); err != nil {
		return nil, err
	}
	if h, err = n.conv2.apply(p, h); err != nil {
		return nil, err
	}
	if h, err = G.Reshape(h, tensor.Shape{1, 32}); err != nil {
		return nil, errors.Wrap(err, "flatten")
	}
	if h, err = n.fc.apply(p, h); err != nil {
		return nil, err
	}
	return G.Rectify(h)
}

// Forward builds this step's graph and evaluates the class scores.
func (n *Net) Forward(input []float32, class int) error {
	if len(input) != imageSide*imageSide {
		return errors.Errorf("expected %d input values, got %d", imageSide*imageSide, len(input))
	}
	if class < 0 || class >= numClasses {
		return errors.Errorf("class %d outside [0, %d)", class, numClasses)
	}

	p := newPass()
	img := tensor.New(tensor.WithShape(1, 1, imageSide, imageSide), tensor.WithBacking(append([]float32(nil), input...)))
	x := G.NodeFromAny(p.g, img, G.WithName("x"))
	scores, err := n.predict(p, x)
	if err != nil {
		return err
	}

	m := G.NewLispMachine(p.g, G.ExecuteFwdOnly())
	defer m.Close()
	if err := m.RunAll(); err != nil {
		return errors.Wrap(err, "run forward")
	}

	n.cur, n.scores, n.class = p, scores, class
	return nil
}

// Backward adds the loss to the step graph, backpropagates and applies one
// SGD update. The LispMachine re-evaluates the forward ops on its way to the
// loss, so the measured time includes a second forward pass.
func (n *Net) Backward() (float64, error) {
	if n.cur == nil {
		return 0, errors.New("backward called before forward")
	}
	p, scores, class := n.cur, n.scores, n.class
	n.cur, n.scores = nil, nil

	cost, err := crossEntropy(p.g, scores, class)
	if err != nil {
		return 0, errors.Wrap(err, "build loss")
	}

	m := G.NewLispMachine(p.g)
	defer m.Close()
	if err := m.RunAll(); err != nil {
		return 0, errors.Wrap(err, "run gradients")
	}
	if err := n.solver.Step(G.NodesToValueGrads(p.nodes)); err != nil {
		return 0, errors.Wrap(err, "sgd step")
	}
	if err := p.sync(); err != nil {
		return 0, err
	}

	switch v := cost.Value().Data().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Errorf("loss is not a scalar: %v", cost.Value())
}

// crossEntropy is -log(softmax(scores)[class]), picked with a one-hot mask.
func crossEntropy(g *G.ExprGraph, scores *G.Node, class int) (*G.Node, error) {
	onehot := make([]float32, numClasses)
	onehot[class] = 1
	eps := make([]float32, numClasses)
	for i := range eps {
		eps[i] = logEps
	}
	y := G.NewConstant(tensor.New(tensor.WithShape(1, numClasses), tensor.WithBacking(onehot)), G.WithName("y"))
	e := G.NewConstant(tensor.New(tensor.WithShape(1, numClasses), tensor.WithBacking(eps)), G.WithName("eps"))

	prob, err := G.SoftMax(scores)
	if err != nil {
		return nil, err
	}
	logp, err := G.Log(G.Must(G.Add(prob, e)))
	if err != nil {
		return nil, err
	}
	picked, err := G.HadamardProd(y, logp)
	if err != nil {
		return nil, err
	}
	sum, err := G.Sum(picked)
	if err != nil {
		return nil, err
	}
	return G.Neg(sum)
}
