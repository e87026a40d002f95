// Package pipeline - Error taxonomy shared by every classification stage.
package pipeline

import (
	"fmt"
	"strings"
)

// Stage names the part of the pipeline that produced an error.
type Stage string

const (
	// StageConfig is configuration loading and validation.
	StageConfig Stage = "config"
	// StageFetch is artifact download and extraction.
	StageFetch Stage = "fetch"
	// StageLabels is label set loading.
	StageLabels Stage = "labels"
	// StageFixtures is reference fixture loading.
	StageFixtures Stage = "fixtures"
	// StageImage is image decoding and resizing.
	StageImage Stage = "image"
	// StagePreprocess is tensor normalization.
	StagePreprocess Stage = "preprocess"
	// StageModel is model loading and metadata discovery.
	StageModel Stage = "model"
	// StageInference is a model run.
	StageInference Stage = "inference"
	// StagePostprocess is softmax and ranking.
	StagePostprocess Stage = "postprocess"
	// StageValidation is the reference comparison.
	StageValidation Stage = "validation"
)

// IOError reports a missing or unreadable file.
type IOError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: cannot read %s: %v", e.Stage, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error { return e.Err }

// ParseError reports malformed JSON, protobuf or image bytes.
type ParseError struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse %s: %v", e.Stage, e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// ShapeError reports tensor dimensions (or dtype) that disagree with what a stage expects.
type ShapeError struct {
	Stage Stage
	// What is being checked, e.g. "input tensor" or "label count".
	What string
	Want []int
	Got  []int
	// Detail carries non-dimensional mismatches such as an unsupported dtype.
	Detail string
}

func (e *ShapeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.What, e.Detail)
	}
	return fmt.Sprintf("%s: %s: want shape %s, got %s", e.Stage, e.What, FormatShape(e.Want), FormatShape(e.Got))
}

// ValidationError reports the first element where a computed output left the reference
// tolerance.
type ValidationError struct {
	// Case is the fixture index.
	Case int
	// Output is the output position within the case.
	Output int
	// Index is the flat element index, Coord the same element in tensor coordinates.
	Index     int
	Coord     []int
	Reference float64
	Computed  float64
	Tolerance float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"%s: case %d output %d element %d %s: reference %g, computed %g (tolerance %g)",
		StageValidation, e.Case, e.Output, e.Index, FormatShape(e.Coord), e.Reference, e.Computed, e.Tolerance,
	)
}

// StageError attributes a collaborator failure, such as a runtime or network error, to the
// stage that called it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage carried by a taxonomy error, or "" for other errors.
//
// Arguments:
//   - err: The error to inspect; it is unwrapped until a taxonomy error is found.
//
// Returns:
//   - Stage: The failing stage.
func StageOf(err error) Stage {
	for err != nil {
		switch e := err.(type) {
		case *IOError:
			return e.Stage
		case *ParseError:
			return e.Stage
		case *ShapeError:
			return e.Stage
		case *StageError:
			return e.Stage
		case *ValidationError:
			return StageValidation
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Cause() error }:
			err = u.Cause()
		default:
			return ""
		}
	}
	return ""
}

// FormatShape renders dims as "(1, 3, 224, 224)".
func FormatShape(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
