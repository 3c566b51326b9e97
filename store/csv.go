package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadCSV builds a MemoryStore from CSV files matching a glob pattern.
//
// Every file must carry a header row naming at least the requested feature
// and label columns (matched case-insensitively). Feature columns are parsed
// as float32 and become the var axis in the given order; label columns are
// kept as raw strings on the obs axis. Rows are concatenated in file order.
func LoadCSV(pattern string, featureCols, labelCols []string) (*MemoryStore, error) {
	csvPaths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(csvPaths) == 0 {
		return nil, fmt.Errorf("no CSV files found matching pattern: %s", pattern)
	}

	var features []float32
	labels := make(map[string][]string, len(labelCols))
	for _, col := range labelCols {
		labels[col] = nil
	}

	for _, path := range csvPaths {
		if err := readCSVFile(path, featureCols, labelCols, &features, labels); err != nil {
			return nil, err
		}
	}

	obs := make([]ObsColumn, 0, len(labelCols))
	for _, col := range labelCols {
		obs = append(obs, ObsColumn{Name: col, Labels: labels[col]})
	}
	return NewMemoryStore(obs, featureCols, features)
}

func readCSVFile(path string, featureCols, labelCols []string,
	features *[]float32, labels map[string][]string) error {

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	featIdx := make([]int, len(featureCols))
	for i, col := range featureCols {
		idx, ok := colIndex[strings.ToLower(col)]
		if !ok {
			return fmt.Errorf("required column %q not found in %s", col, path)
		}
		featIdx[i] = idx
	}
	labelIdx := make([]int, len(labelCols))
	for i, col := range labelCols {
		idx, ok := colIndex[strings.ToLower(col)]
		if !ok {
			return fmt.Errorf("required column %q not found in %s", col, path)
		}
		labelIdx[i] = idx
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row from %s: %w", path, err)
		}
		for i, idx := range featIdx {
			val, err := parseFloat32(record[idx])
			if err != nil {
				return fmt.Errorf("failed to parse %s in %s: %w", featureCols[i], path, err)
			}
			*features = append(*features, val)
		}
		for i, idx := range labelIdx {
			col := labelCols[i]
			labels[col] = append(labels[col], strings.TrimSpace(record[idx]))
		}
	}
	return nil
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}
