package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FixturePrefix is the directory name prefix of a reference case.
const FixturePrefix = "test_data_set_"

// Fixture is one reference case shipped with a model.
type Fixture struct {
	// Path is the case directory.
	Path string
	// Index is the numeric suffix of the directory name.
	Index int
	// Inputs holds input_<k>.pb ordered by k.
	Inputs []*tensor.Dense
	// Outputs holds output_<k>.pb ordered by k.
	Outputs []*tensor.Dense
}

// LoadFixtures reads the reference cases below a model directory.
//
// Arguments:
//   - dir: Directory containing test_data_set_<n> subdirectories.
//   - limit: Maximum number of cases to load, in ascending <n> order. Zero or less loads all.
//
// Returns:
//   - []Fixture: The cases sorted by index.
//   - error: *pipeline.IOError when the directory or a file cannot be read,
//     *pipeline.ParseError when a tensor file is malformed.
func LoadFixtures(dir string, limit int) ([]Fixture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageFixtures, Path: dir, Err: err}
	}

	var cases []Fixture
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), FixturePrefix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), FixturePrefix))
		if err != nil {
			continue
		}
		cases = append(cases, Fixture{Path: filepath.Join(dir, entry.Name()), Index: index})
	}
	if len(cases) == 0 {
		return nil, &pipeline.IOError{
			Stage: pipeline.StageFixtures,
			Path:  dir,
			Err:   errors.Errorf("no %s* directories", FixturePrefix),
		}
	}

	sort.Slice(cases, func(i, j int) bool {
		return cases[i].Index < cases[j].Index
	})
	if limit > 0 && len(cases) > limit {
		cases = cases[:limit]
	}

	for i := range cases {
		if cases[i].Inputs, err = loadTensors(cases[i].Path, "input_"); err != nil {
			return nil, err
		}
		if cases[i].Outputs, err = loadTensors(cases[i].Path, "output_"); err != nil {
			return nil, err
		}
	}

	return cases, nil
}

// LoadTensorFile reads a serialized TensorProto.
//
// Arguments:
//   - path: The .pb file.
//
// Returns:
//   - *tensor.Dense: The decoded tensor.
//   - error: *pipeline.IOError or *pipeline.ParseError.
func LoadTensorFile(path string) (*tensor.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageFixtures, Path: path, Err: err}
	}
	t, err := onnx.ParseTensor(data)
	if err != nil {
		return nil, &pipeline.ParseError{Stage: pipeline.StageFixtures, Source: path, Err: err}
	}
	return t, nil
}

// loadTensors reads <prefix><k>.pb for k = 0, 1, ... and requires at least one file.
func loadTensors(dir, prefix string) ([]*tensor.Dense, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.pb"))
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageFixtures, Path: dir, Err: err}
	}

	type indexed struct {
		k    int
		path string
	}
	var files []indexed
	for _, m := range matches {
		k, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".pb"))
		if err != nil {
			continue
		}
		files = append(files, indexed{k: k, path: m})
	}
	if len(files) == 0 {
		return nil, &pipeline.IOError{
			Stage: pipeline.StageFixtures,
			Path:  filepath.Join(dir, prefix+"0.pb"),
			Err:   os.ErrNotExist,
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].k < files[j].k
	})

	tensors := make([]*tensor.Dense, len(files))
	for i, f := range files {
		if tensors[i], err = LoadTensorFile(f.path); err != nil {
			return nil, err
		}
	}
	return tensors, nil
}
