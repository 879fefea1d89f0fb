// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

// tap is one element of a sliding window: the flat index of the window position, and the flat index of the
// input spatial position it reads.
type tap struct {
	window, input int
}

// windowGeometry describes a sliding window over tensors laid out as (channels, spatial…, batch).
type windowGeometry struct {
	// Channels of the input, batch size and the flat sizes of the input, window and output spatial axes.
	channels, batch          int
	inSize, winSize, outSize int

	// taps of each output spatial position (flat index): only positions that fall inside the input
	// (not in the padding) are listed.
	taps [][]tap
}

func newWindowGeometry(inDims, window, outSpatial []int, params *graph.ConvParams) *windowGeometry {
	in := inDims[1 : len(inDims)-1]
	g := &windowGeometry{
		channels: inDims[0],
		batch:    inDims[len(inDims)-1],
		inSize:   shapes.Shape{Dimensions: in}.Size(),
		winSize:  shapes.Shape{Dimensions: window}.Size(),
		outSize:  shapes.Shape{Dimensions: outSpatial}.Size(),
	}
	g.taps = make([][]tap, g.outSize)
	inStrides := shapes.RowMajorStrides(in)
	for outIdx, outPos := range (shapes.Shape{Dimensions: outSpatial}).Iter() {
		for winIdx, winPos := range (shapes.Shape{Dimensions: window}).Iter() {
			inIdx := 0
			inside := true
			for axis := range in {
				pos := outPos[axis]*params.Strides[axis] - params.Padding[axis][0] + winPos[axis]*params.Dilations[axis]
				if pos < 0 || pos >= in[axis] {
					inside = false
					break
				}
				inIdx += pos * inStrides[axis]
			}
			if inside {
				g.taps[outIdx] = append(g.taps[outIdx], tap{window: winIdx, input: inIdx})
			}
		}
	}
	return g
}

// spatial returns the spatial dimensions of a tensor laid out as (channels, spatial…, batch).
func spatial(dims []int) []int {
	return dims[1 : len(dims)-1]
}

// convolutionGeometry returns the geometry of the convolution of x by filter, with the output out.
func convolutionGeometry(x, filter, out *graph.Node, params *graph.ConvolutionParams) (g *windowGeometry, outChannels int) {
	filterDims := filter.Axes().Lengths()
	g = newWindowGeometry(x.Axes().Lengths(), spatial(filterDims), spatial(out.Axes().Lengths()), &params.ConvParams)
	return g, filterDims[len(filterDims)-1]
}

// convolution computes out(K, O…, N) = Σ x(C, S…, N) · filter(C, F…, K).
func (kernels[T]) convolution(e *execution, node *graph.Node) {
	params := node.Params().(*graph.ConvolutionParams)
	x, filter := node.Arg(0), node.Arg(1)
	g, outChannels := convolutionGeometry(x, filter, node, params)
	xFlat, filterFlat := flatOf[T](e.tensorOf(x)), flatOf[T](e.tensorOf(filter))
	out := flatOf[T](e.tensorOf(node))
	clear(out)
	batch := g.batch
	for outIdx, taps := range g.taps {
		for _, t := range taps {
			for c := range g.channels {
				xBase := (c*g.inSize + t.input) * batch
				for k := range outChannels {
					weight := filterFlat[(c*g.winSize+t.window)*outChannels+k]
					outBase := (k*g.outSize + outIdx) * batch
					for n := range batch {
						out[outBase+n] += weight * xFlat[xBase+n]
					}
				}
			}
		}
	}
}

// convolutionBpropData computes the gradient of the convolution with respect to its input x.
// The arguments are (delta, filter), and the output has the axes of x.
func (kernels[T]) convolutionBpropData(e *execution, node *graph.Node) {
	params := node.Params().(*graph.ConvolutionParams)
	delta, filter := node.Arg(0), node.Arg(1)
	g, outChannels := convolutionGeometry(node, filter, delta, params)
	deltaFlat, filterFlat := flatOf[T](e.tensorOf(delta)), flatOf[T](e.tensorOf(filter))
	dx := flatOf[T](e.tensorOf(node))
	clear(dx)
	batch := g.batch
	for outIdx, taps := range g.taps {
		for _, t := range taps {
			for c := range g.channels {
				dxBase := (c*g.inSize + t.input) * batch
				for k := range outChannels {
					weight := filterFlat[(c*g.winSize+t.window)*outChannels+k]
					deltaBase := (k*g.outSize + outIdx) * batch
					for n := range batch {
						dx[dxBase+n] += weight * deltaFlat[deltaBase+n]
					}
				}
			}
		}
	}
}

// convolutionBpropFilter computes the gradient of the convolution with respect to its filter.
// The arguments are (delta, x), and the output has the axes of the filter.
func (kernels[T]) convolutionBpropFilter(e *execution, node *graph.Node) {
	params := node.Params().(*graph.ConvolutionParams)
	delta, x := node.Arg(0), node.Arg(1)
	g, outChannels := convolutionGeometry(x, node, delta, params)
	deltaFlat, xFlat := flatOf[T](e.tensorOf(delta)), flatOf[T](e.tensorOf(x))
	df := flatOf[T](e.tensorOf(node))
	clear(df)
	batch := g.batch
	for outIdx, taps := range g.taps {
		for _, t := range taps {
			for c := range g.channels {
				xBase := (c*g.inSize + t.input) * batch
				for k := range outChannels {
					deltaBase := (k*g.outSize + outIdx) * batch
					var sum T
					for n := range batch {
						sum += deltaFlat[deltaBase+n] * xFlat[xBase+n]
					}
					df[(c*g.winSize+t.window)*outChannels+k] += sum
				}
			}
		}
	}
}

// poolingGeometry returns the geometry of the pooling of x, with the output out.
func poolingGeometry(x, out *graph.Node, params *graph.PoolingParams) *windowGeometry {
	return newWindowGeometry(x.Axes().Lengths(), params.Window, spatial(out.Axes().Lengths()), &params.ConvParams)
}

// pooling computes the max or the average of each window. Padded positions are not counted, and windows
// entirely in the padding yield 0.
func (kernels[T]) pooling(e *execution, node *graph.Node) {
	params := node.Params().(*graph.PoolingParams)
	x := node.Arg(0)
	g := poolingGeometry(x, node, params)
	xFlat := flatOf[T](e.tensorOf(x))
	out := flatOf[T](e.tensorOf(node))
	clear(out)
	batch := g.batch
	for outIdx, taps := range g.taps {
		if len(taps) == 0 {
			continue
		}
		for c := range g.channels {
			outBase := (c*g.outSize + outIdx) * batch
			for n := range batch {
				acc := xFlat[(c*g.inSize+taps[0].input)*batch+n]
				for _, t := range taps[1:] {
					v := xFlat[(c*g.inSize+t.input)*batch+n]
					if params.Op == graph.PoolMax {
						acc = max(acc, v)
					} else {
						acc += v
					}
				}
				if params.Op == graph.PoolAvg {
					acc /= T(len(taps))
				}
				out[outBase+n] = acc
			}
		}
	}
}

// poolingBprop computes the gradient of the pooling with respect to its input x: for max pooling, each
// delta goes to the first maximum of its window; for average pooling, it is spread evenly over the window.
// The arguments are (delta, x), and the output has the axes of x.
func (kernels[T]) poolingBprop(e *execution, node *graph.Node) {
	params := node.Params().(*graph.PoolingParams)
	delta, x := node.Arg(0), node.Arg(1)
	g := poolingGeometry(x, delta, params)
	deltaFlat, xFlat := flatOf[T](e.tensorOf(delta)), flatOf[T](e.tensorOf(x))
	dx := flatOf[T](e.tensorOf(node))
	clear(dx)
	batch := g.batch
	for outIdx, taps := range g.taps {
		if len(taps) == 0 {
			continue
		}
		for c := range g.channels {
			deltaBase := (c*g.outSize + outIdx) * batch
			for n := range batch {
				d := deltaFlat[deltaBase+n]
				if params.Op == graph.PoolAvg {
					share := d / T(len(taps))
					for _, t := range taps {
						dx[(c*g.inSize+t.input)*batch+n] += share
					}
					continue
				}
				best := (c*g.inSize+taps[0].input)*batch + n
				for _, t := range taps[1:] {
					if idx := (c*g.inSize+t.input)*batch + n; xFlat[idx] > xFlat[best] {
						best = idx
					}
				}
				dx[best] += d
			}
		}
	}
}
