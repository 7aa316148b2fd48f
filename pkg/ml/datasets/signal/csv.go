// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package signal

import (
	"io"
	"math"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Column names of the edges CSV file read by ReadEdgesCSV.
const (
	EdgesSourceCol = "source"
	EdgesTargetCol = "target"
	EdgesWeightCol = "weight"
)

// ReadTimeSeriesCSV reads a CSV with a header row naming the nodes (one column per node), and one row per time
// step. It returns the values shaped [numSteps][numNodes] and the names of the nodes.
//
// Missing values are not accepted.
func ReadTimeSeriesCSV(r io.Reader) (values [][]float32, nodeNames []string, err error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, nil, errors.Wrap(df.Err, "failed to parse time series CSV")
	}
	numSteps, numNodes := df.Nrow(), df.Ncol()
	if numSteps == 0 || numNodes == 0 {
		return nil, nil, errors.Errorf("time series CSV is empty (%d rows, %d columns)", numSteps, numNodes)
	}
	nodeNames = df.Names()
	values = make([][]float32, numSteps)
	for step := range values {
		values[step] = make([]float32, numNodes)
	}
	for node, name := range nodeNames {
		for step, v := range df.Col(name).Float() {
			if math.IsNaN(v) {
				return nil, nil, errors.Errorf("time series CSV has a missing or invalid value for node %q in row #%d",
					name, step)
			}
			values[step][node] = float32(v)
		}
	}
	return values, nodeNames, nil
}

// ReadEdgesCSV reads a CSV with a header row and the columns "source" and "target" with the node indices of each
// edge, and an optional "weight" column. If there is no "weight" column, the returned weights are nil.
func ReadEdgesCSV(r io.Reader) (edges [][2]int32, weights []float32, err error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.WithTypes(map[string]series.Type{
		EdgesSourceCol: series.Int,
		EdgesTargetCol: series.Int,
		EdgesWeightCol: series.Float,
	}))
	if df.Err != nil {
		return nil, nil, errors.Wrap(df.Err, "failed to parse edges CSV")
	}
	names := df.Names()
	for _, required := range []string{EdgesSourceCol, EdgesTargetCol} {
		if !slices.Contains(names, required) {
			return nil, nil, errors.Errorf("edges CSV is missing the column %q, got columns %v", required, names)
		}
	}
	sources, err := df.Col(EdgesSourceCol).Int()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "edges CSV column %q", EdgesSourceCol)
	}
	targets, err := df.Col(EdgesTargetCol).Int()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "edges CSV column %q", EdgesTargetCol)
	}
	edges = make([][2]int32, len(sources))
	for ii := range edges {
		source, target := sources[ii], targets[ii]
		if source < 0 || source > math.MaxInt32 || target < 0 || target > math.MaxInt32 {
			return nil, nil, errors.Errorf("edges CSV has an invalid node index in row #%d: source=%d, target=%d",
				ii, source, target)
		}
		edges[ii] = [2]int32{int32(source), int32(target)}
	}
	if slices.Contains(names, EdgesWeightCol) {
		weights = make([]float32, len(edges))
		for ii, w := range df.Col(EdgesWeightCol).Float() {
			if math.IsNaN(w) {
				return nil, nil, errors.Errorf("edges CSV has a missing or invalid weight in row #%d", ii)
			}
			weights[ii] = float32(w)
		}
	}
	return edges, weights, nil
}

// LoadTimeSeriesCSV creates a signal with FromTimeSeries, reading the node values from the CSV file in seriesPath
// (see ReadTimeSeriesCSV) and the static graph from the CSV file in edgesPath (see ReadEdgesCSV).
func LoadTimeSeriesCSV(name, seriesPath, edgesPath string, lags int) (*Signal, error) {
	seriesFile, err := os.Open(seriesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open time series file %q", seriesPath)
	}
	defer func() { _ = seriesFile.Close() }()
	values, _, err := ReadTimeSeriesCSV(seriesFile)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", seriesPath)
	}

	edgesFile, err := os.Open(edgesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open edges file %q", edgesPath)
	}
	defer func() { _ = edgesFile.Close() }()
	edges, weights, err := ReadEdgesCSV(edgesFile)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", edgesPath)
	}

	s, err := FromTimeSeries(name, edges, weights, values, lags)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Loaded %s from %q and %q", s, seriesPath, edgesPath)
	return s, nil
}
