package gnn

import (
	"math"
	"slices"
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestParseAggregation(t *testing.T) {
	for name, want := range map[string]AggregationType{
		"add": AggregationSum, "sum": AggregationSum, "Mean": AggregationMean, "MAX": AggregationMax,
	} {
		got, err := ParseAggregation(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ParseAggregation(%q)", name)
	}
	_, err := ParseAggregation("median")
	require.Error(t, err)
	require.Panics(t, func() { MustParseAggregation("median") })
	assert.Equal(t, "add", AggregationSum.String())
}

func TestPropagate(t *testing.T) {
	// 4 nodes, with values [[0, 1], [2, 3], [4, 5], [6, 7]].
	// Edges: 0->0, 1->2, 1->3, 2->3. Node 1 receives no messages.
	buildEdges := func(g *Graph) *Edges {
		return NewEdges(Const(g, []int32{0, 1, 1, 2}), Const(g, []int32{0, 2, 3, 3}))
	}
	graphtest.RunTestGraphFn(t, "Propagate()", func(g *Graph) (inputs, outputs []*Node) {
		values := IotaFull(g, shapes.Make(dtypes.Float32, 4, 2))
		edges := buildEdges(g)
		inputs = []*Node{values}
		outputs = []*Node{
			Propagate(values, edges, 4, AggregationSum),
			Propagate(values, edges, 4, AggregationMean),
			Propagate(values, edges, 4, AggregationMax),
		}
		return
	}, []any{
		[][]float32{{0, 1}, {0, 0}, {2, 3}, {6, 8}},
		[][]float32{{0, 1}, {0, 0}, {2, 3}, {3, 4}},
		[][]float32{{0, 1}, {0, 0}, {2, 3}, {4, 5}},
	}, -1)

	graphtest.RunTestGraphFn(t, "Propagate() with weights and mask", func(g *Graph) (inputs, outputs []*Node) {
		values := IotaFull(g, shapes.Make(dtypes.Float32, 4, 2))
		edges := buildEdges(g).WithWeights(Const(g, []float32{1, 2, 1, 0.5}))
		masked := edges.WithMask(Const(g, []bool{true, true, false, true}))
		inputs = []*Node{values}
		outputs = []*Node{
			Propagate(values, edges, 4, AggregationSum),
			Propagate(values, masked, 4, AggregationSum),
			Propagate(values, masked, 4, AggregationMean),
			Propagate(values, masked, 4, AggregationMax),
		}
		return
	}, []any{
		[][]float32{{0, 1}, {0, 0}, {4, 6}, {4, 5.5}},
		[][]float32{{0, 1}, {0, 0}, {4, 6}, {2, 2.5}},
		[][]float32{{0, 1}, {0, 0}, {4, 6}, {2, 2.5}},
		[][]float32{{0, 1}, {0, 0}, {4, 6}, {2, 2.5}},
	}, 1e-5)
}

func TestEdgesFromIndex(t *testing.T) {
	graphtest.RunTestGraphFn(t, "EdgesFromIndex()", func(g *Graph) (inputs, outputs []*Node) {
		edgeIndex := Const(g, [][]int32{{0, 1, 2}, {1, 2, 0}})
		edges := EdgesFromIndex(edgeIndex)
		inputs = []*Node{edgeIndex}
		outputs = []*Node{edges.Source, edges.Target}
		return
	}, []any{
		[]int32{0, 1, 2},
		[]int32{1, 2, 0},
	}, -1)

	require.Panics(t, func() {
		_ = MustNewExec(graphtest.BuildTestBackend(), func(g *Graph) *Node {
			return EdgesFromIndex(Const(g, [][]int32{{0, 1}, {1, 2}, {2, 0}})).Source
		}).MustExec()
	})
}

func TestAddRemainingSelfLoops(t *testing.T) {
	graphtest.RunTestGraphFn(t, "AddRemainingSelfLoops()", func(g *Graph) (inputs, outputs []*Node) {
		// Node 1 already has a self-loop, with weight 3.
		edges := NewEdges(Const(g, []int32{0, 1, 1}), Const(g, []int32{1, 1, 2})).
			WithWeights(Const(g, []float32{2, 3, 4}))
		withLoops := edges.AddRemainingSelfLoops(3, 1)
		inputs = []*Node{edges.Source, edges.Target, edges.Weights}
		outputs = []*Node{withLoops.Source, withLoops.Target, withLoops.Mask, withLoops.EffectiveWeights(dtypes.Float32)}
		return
	}, []any{
		[]int32{0, 1, 1, 0, 1, 2},
		[]int32{1, 1, 2, 0, 1, 2},
		[]bool{true, false, true, true, true, true},
		[]float32{2, 0, 4, 1, 3, 1},
	}, -1)

	graphtest.RunTestGraphFn(t, "AddRemainingSelfLoops() improved", func(g *Graph) (inputs, outputs []*Node) {
		edges := NewEdges(Const(g, []int32{0}), Const(g, []int32{1}))
		withLoops := edges.AddRemainingSelfLoops(2, 2)
		inputs = []*Node{edges.Source, edges.Target}
		outputs = []*Node{withLoops.EffectiveWeights(dtypes.Float32)}
		return
	}, []any{
		[]float32{1, 2, 2},
	}, -1)
}

func TestSymmetricNormalization(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SymmetricNormalization()", func(g *Graph) (inputs, outputs []*Node) {
		// Path 0->1->2, with self-loops: in-degrees are [1, 2, 2].
		edges := NewEdges(Const(g, []int32{0, 1}), Const(g, []int32{1, 2})).AddRemainingSelfLoops(3, 1)
		// Without self-loops node 0 has in-degree 0.
		noLoops := NewEdges(Const(g, []int32{0}), Const(g, []int32{1}))
		inputs = []*Node{edges.Source, edges.Target}
		outputs = []*Node{
			edges.Degree(3, dtypes.Float32),
			edges.SymmetricNormalization(3, dtypes.Float32),
			noLoops.SymmetricNormalization(2, dtypes.Float32),
		}
		return
	}, []any{
		[]float32{1, 2, 2},
		[]float32{float32(1 / math.Sqrt(2)), 0.5, 1, 0.5, 0.5},
		[]float32{0},
	}, 1e-5)
}

func TestGCN(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	t.Run("GivenWeight", func(t *testing.T) {
		ctx := context.New()
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, source, target *Node) *Node {
			g := x.Graph()
			identity := Const(g, [][]float32{{1, 0}, {0, 1}})
			return GCN(ctx, x, NewEdges(source, target), 2).Weight(identity).UseBias(false).Done()
		})
		got := exec.MustExec([][]float32{{1, 0}, {0, 1}, {1, 1}}, []int32{0, 1}, []int32{1, 2})[0]
		want := [][]float32{{1, 0}, {float32(1 / math.Sqrt(2)), 0.5}, {0.5, 1}}
		require.True(t, got.InDelta(tensors.FromValue(want), 1e-5), "got %s, want %v", got, want)
		require.Nil(t, ctx.GetVariableByScopeAndName("/", "weights"), "no weights should have been created")
	})

	t.Run("NoNormalization", func(t *testing.T) {
		ctx := context.New().WithInitializer(initializers.One)
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, source, target *Node) *Node {
			return GCN(ctx.In("gcn"), x, NewEdges(source, target), 3).
				Normalize(false).
				AddSelfLoops(false).
				Done()
		})
		// Weights are all 1, so each output channel is the sum of the features of the incoming neighbors.
		got := exec.MustExec([][]float32{{1, 2}, {3, 4}}, []int32{0, 1, 1}, []int32{1, 1, 0})[0]
		require.Equal(t, [][]float32{{7, 7, 7}, {10, 10, 10}}, got.Value())
		for name, dims := range map[string][]int{"weights": {2, 3}, "biases": {3}} {
			v := ctx.GetVariableByScopeAndName("/gcn", name)
			require.NotNilf(t, v, "variable %q not created", name)
			require.NoError(t, v.Shape().CheckDims(dims...))
		}
	})
}

// sinInitializer initializes the variables deterministically: element i (in row-major order) is 0.3*sin(i).
func sinInitializer(g *Graph, shape shapes.Shape) *Node {
	return MulScalar(Sin(IotaFull(g, shape)), 0.3)
}

func sinValue(i int) float64 { return 0.3 * math.Sin(float64(i)) }

// referenceGatedGraph is a plain Go implementation of GatedGraph (with sum aggregation), with weights
// initialized as sinInitializer.
func referenceGatedGraph(x [][]float64, source, target []int, weights []float64, numLayers, outChannels int) [][]float64 {
	numNodes := len(x)
	h := make([][]float64, numNodes)
	for n := range numNodes {
		h[n] = make([]float64, outChannels)
		copy(h[n], x[n])
	}
	sigmoid := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
	// GRU weights: inputsW [3, out, out], recurrentW [3, out, out], biasesW [6, out], each initialized from 0.
	sq := outChannels * outChannels
	inputsW := func(gate, i, j int) float64 { return sinValue(gate*sq + i*outChannels + j) }
	recurrentW := inputsW
	bias := func(idx, i int) float64 { return sinValue(idx*outChannels + i) }
	layerW := func(layer, i, j int) float64 { return sinValue(layer*sq + i*outChannels + j) }

	for layer := range numLayers {
		// Messages: m = aggregate(weight * (h @ W[layer])[source] -> target)
		m := make([][]float64, numNodes)
		for n := range numNodes {
			m[n] = make([]float64, outChannels)
		}
		for e := range source {
			for j := range outChannels {
				var v float64
				for i := range outChannels {
					v += h[source[e]][i] * layerW(layer, i, j)
				}
				m[target[e]][j] += weights[e] * v
			}
		}
		newH := make([][]float64, numNodes)
		for n := range numNodes {
			newH[n] = make([]float64, outChannels)
			proj := func(gate int, w func(gate, i, j int) float64, v []float64, biasIdx int, i int) float64 {
				sum := bias(biasIdx, i)
				for j := range outChannels {
					sum += w(gate, i, j) * v[j]
				}
				return sum
			}
			for i := range outChannels {
				r := sigmoid(proj(0, inputsW, m[n], 0, i) + proj(0, recurrentW, h[n], 3, i))
				z := sigmoid(proj(1, inputsW, m[n], 1, i) + proj(1, recurrentW, h[n], 4, i))
				c := math.Tanh(proj(2, inputsW, m[n], 2, i) + r*proj(2, recurrentW, h[n], 5, i))
				newH[n][i] = (1-z)*c + z*h[n][i]
			}
		}
		h = newH
	}
	return h
}

func TestGatedGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(sinInitializer)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, source, target, weights *Node) *Node {
		edges := NewEdges(source, target).WithWeights(weights)
		return GatedGraph(ctx, x, edges, 3).NumLayers(2).Done()
	})
	x := [][]float32{{1, -1}, {0.5, 0.25}, {-0.5, 2}}
	source, target := []int32{0, 1, 2, 2}, []int32{1, 2, 0, 1}
	weights := []float32{1, 0.5, 2, 1}
	got := exec.MustExec(x, source, target, weights)[0]
	require.NoError(t, got.Shape().CheckDims(3, 3))

	want := referenceGatedGraph(
		[][]float64{{1, -1}, {0.5, 0.25}, {-0.5, 2}},
		[]int{0, 1, 2, 2}, []int{1, 2, 0, 1}, []float64{1, 0.5, 2, 1}, 2, 3)
	gotValues := got.Value().([][]float32)
	for n := range want {
		for i := range want[n] {
			assert.InDeltaf(t, want[n][i], gotValues[n][i], 1e-4, "node %d, channel %d", n, i)
		}
	}

	// Input channels larger than output channels are not supported.
	err := exceptions.TryCatch[error](func() {
		badExec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, x, source, target *Node) *Node {
			return GatedGraph(ctx, x, NewEdges(source, target), 1).Done()
		})
		badExec.MustExec(x, source, target)
	})
	require.Error(t, err)
}

func TestTopKPool(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	ctx.VariableWithValue("projection", []float32{1, 1})
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) (*Node, *Node, *Node) {
		return TopKPool(ctx, x, 3)
	})
	// Nodes 1 and 3 tie, so node 1 comes first.
	x := [][]float32{{1, 0}, {3, 1}, {0, 0}, {3, 1}, {-1, -1}}
	outputs := exec.MustExec(x)
	pooled, selected, scores := outputs[0], outputs[1], outputs[2]

	score := func(row []float32) float32 { return float32(math.Tanh(float64(row[0]+row[1]) / math.Sqrt2)) }
	wantScores := make([]float32, len(x))
	for i, row := range x {
		wantScores[i] = score(row)
	}
	require.InDeltaSlice(t, wantScores, scores.Value(), 1e-5)
	require.Equal(t, []int32{1, 3, 0}, selected.Value())

	wantPooled := [][]float32{
		{3 * wantScores[1], 1 * wantScores[1]},
		{3 * wantScores[3], 1 * wantScores[3]},
		{1 * wantScores[0], 0},
	}
	require.True(t, pooled.InDelta(tensors.FromValue(wantPooled), 1e-5), "got %s, want %v", pooled, wantPooled)

	t.Run("DefaultInitializer", func(t *testing.T) {
		exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, x *Node) (*Node, *Node) {
			pooled, _, scores := TopKPool(ctx, x, 3)
			return pooled, scores
		})
		outputs := exec.MustExec(x)
		var nonZero bool
		for _, output := range outputs {
			for _, v := range tensors.CopyFlatData[float32](output) {
				require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "got %s", output)
				nonZero = nonZero || v != 0
			}
		}
		require.True(t, nonZero, "projection initialized to zeros")
	})

	t.Run("ZeroProjection", func(t *testing.T) {
		zeroCtx := context.New().Checked(false)
		zeroCtx.VariableWithValue("projection", []float32{0, 0})
		exec := context.MustNewExec(backend, zeroCtx, func(ctx *context.Context, x *Node) *Node {
			_, _, scores := TopKPool(ctx, x, 3)
			return scores
		})
		require.Equal(t, []float32{0, 0, 0, 0, 0}, tensors.CopyFlatData[float32](exec.MustExec(x)[0]))
	})

	t.Run("BFloat16Indices", func(t *testing.T) {
		// Node indices above 256 are not exact in bfloat16.
		const numNodes = 300
		exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
			_, selected, _ := TopKPool(ctx, ConvertDType(x, dtypes.BFloat16), numNodes)
			return selected
		})
		values := make([][]float32, numNodes)
		for i := range values {
			values[i] = []float32{float32(i%7) - 3}
		}
		selected := tensors.CopyFlatData[int32](exec.MustExec(values)[0])
		slices.Sort(selected)
		want := make([]int32, numNodes)
		for i := range want {
			want[i] = int32(i)
		}
		require.Equal(t, want, selected)
	})

	require.Panics(t, func() {
		_ = context.MustNewExec(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
			pooled, _, _ := TopKPool(ctx, x, 6)
			return pooled
		}).MustExec(x)
	})
}
