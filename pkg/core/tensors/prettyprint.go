// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"
	"strings"
)

// TensorStringDefaultPrecision is the precision used by Tensor.String for floating point values.
var TensorStringDefaultPrecision = 4

// summaryMaxRow is the number of elements of a row above which the middle elements are elided.
const summaryMaxRow = 6

// String converts to string, eliding the middle of long rows. It uses t.Summary(TensorStringDefaultPrecision).
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	return t.Summary(TensorStringDefaultPrecision)
}

// Summary returns a summary of the Tensor's content, in the form of the Go literal of the equivalent
// multidimensional slice, for instance "[2][3]float32{{1, 2, 3}, {4, 5, 6}}".
func (t *Tensor) Summary(precision int) string {
	var sb strings.Builder
	values := reflect.ValueOf(t.flat)
	dims := t.shape.Dimensions
	for _, dim := range dims {
		_, _ = fmt.Fprintf(&sb, "[%d]", dim)
	}
	sb.WriteString(values.Type().Elem().String())
	if len(dims) == 0 {
		sb.WriteString("(" + formatElement(values.Index(0), precision) + ")")
		return sb.String()
	}
	strides := t.shape.Strides()
	var printAxis func(axis, offset int)
	printAxis = func(axis, offset int) {
		sb.WriteByte('{')
		n := dims[axis]
		for ii := 0; ii < n; ii++ {
			if n > summaryMaxRow && ii == summaryMaxRow/2 {
				sb.WriteString(", ..., ")
				ii = n - summaryMaxRow/2
			}
			if ii > 0 && !(n > summaryMaxRow && ii == n-summaryMaxRow/2) {
				sb.WriteString(", ")
			}
			if axis == len(dims)-1 {
				sb.WriteString(formatElement(values.Index(offset+ii), precision))
			} else {
				printAxis(axis+1, offset+ii*strides[axis])
			}
		}
		sb.WriteByte('}')
	}
	printAxis(0, 0)
	return sb.String()
}
