// Package reference - Certifies an inference backend against reference (input, output) fixtures.
package reference

import (
	"fmt"
	"math"

	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	"gorgonia.org/tensor"
)

// DefaultDecimal is the number of decimal places outputs must agree to.
const DefaultDecimal = 4

// Tolerance returns the absolute tolerance 10^-decimal.
func Tolerance(decimal int) float64 {
	return math.Pow10(-decimal)
}

// Validate compares the outputs of a single case with its reference outputs.
//
// Arguments:
//   - refs: The reference outputs.
//   - computed: The outputs produced by the backend, in the same order.
//   - decimal: The number of decimal places that must agree.
//
// Returns:
//   - error: nil when every element is within tolerance, *pipeline.ShapeError when the output
//     counts or shapes differ, *pipeline.ValidationError for the first element out of tolerance.
func Validate(refs, computed []*tensor.Dense, decimal int) error {
	return ValidateCase(0, refs, computed, decimal)
}

// ValidateCase is Validate with the fixture index reported in errors.
func ValidateCase(caseIndex int, refs, computed []*tensor.Dense, decimal int) error {
	if len(refs) != len(computed) {
		return &pipeline.ShapeError{
			Stage: pipeline.StageValidation,
			What:  fmt.Sprintf("case %d output count", caseIndex),
			Want:  []int{len(refs)},
			Got:   []int{len(computed)},
		}
	}

	tolerance := Tolerance(decimal)
	for o := range refs {
		if err := compare(caseIndex, o, refs[o], computed[o], tolerance); err != nil {
			return err
		}
	}
	return nil
}

func compare(caseIndex, output int, ref, got *tensor.Dense, tolerance float64) error {
	what := fmt.Sprintf("case %d output %d", caseIndex, output)
	if ref == nil || got == nil {
		return &pipeline.ShapeError{Stage: pipeline.StageValidation, What: what, Detail: "missing tensor"}
	}

	shape := []int(ref.Shape())
	if !equalShape(shape, got.Shape()) {
		return &pipeline.ShapeError{
			Stage: pipeline.StageValidation,
			What:  what,
			Want:  append([]int(nil), shape...),
			Got:   append([]int(nil), got.Shape()...),
		}
	}

	want, err := util.Float64s(ref)
	if err != nil {
		return &pipeline.ShapeError{Stage: pipeline.StageValidation, What: what + " reference", Detail: err.Error()}
	}
	have, err := util.Float64s(got)
	if err != nil {
		return &pipeline.ShapeError{Stage: pipeline.StageValidation, What: what, Detail: err.Error()}
	}

	for i := range want {
		if agree(want[i], have[i], tolerance) {
			continue
		}
		return &pipeline.ValidationError{
			Case:      caseIndex,
			Output:    output,
			Index:     i,
			Coord:     coordinate(i, shape),
			Reference: want[i],
			Computed:  have[i],
			Tolerance: tolerance,
		}
	}
	return nil
}

// agree reports whether a and b agree. NaN matches only NaN and infinities must be equal.
func agree(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= tolerance
}

// coordinate converts a row-major flat index to tensor coordinates.
func coordinate(index int, shape []int) []int {
	coord := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		if shape[d] == 0 {
			continue
		}
		coord[d] = index % shape[d]
		index /= shape[d]
	}
	return coord
}

func equalShape(a []int, b tensor.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
