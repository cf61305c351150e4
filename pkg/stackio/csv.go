package stackio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"flofish/internal/models"
	"flofish/pkg/decomposition"
	"flofish/pkg/detection"
)

var (
	spotHeader       = []string{"z", "y", "x", "intensity_LoG", "label", "in_cell"}
	decomposedHeader = []string{"z", "y", "x", "label", "in_cell"}
	regionHeader     = []string{"z", "y", "x", "voxels", "intensity_sum", "input_spots", "num_spots"}
)

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// WriteSpots writes a spot table with columns z,y,x,intensity_LoG,label,in_cell.
func WriteSpots(path string, spots detection.SpotTable) error {
	rows := make([][]string, len(spots))
	for i, s := range spots {
		rows[i] = []string{
			strconv.Itoa(s.Z),
			strconv.Itoa(s.Y),
			strconv.Itoa(s.X),
			strconv.FormatFloat(s.IntensityLoG, 'g', -1, 64),
			strconv.Itoa(s.Cell.Label),
			boolField(s.Cell.InCell),
		}
	}
	return writeCSV(path, spotHeader, rows)
}

// WriteDecomposedSpots writes decomposed spots with columns z,y,x,label,in_cell.
func WriteDecomposedSpots(path string, spots []decomposition.Spot) error {
	rows := make([][]string, len(spots))
	for i, s := range spots {
		rows[i] = []string{
			strconv.Itoa(s.Z),
			strconv.Itoa(s.Y),
			strconv.Itoa(s.X),
			strconv.Itoa(s.Cell.Label),
			boolField(s.Cell.InCell),
		}
	}
	return writeCSV(path, decomposedHeader, rows)
}

// WriteRegions writes one row per dense region, located at its centroid.
func WriteRegions(path string, regions []decomposition.Region) error {
	rows := make([][]string, len(regions))
	for i, r := range regions {
		rows[i] = []string{
			strconv.Itoa(r.Centroid.Z),
			strconv.Itoa(r.Centroid.Y),
			strconv.Itoa(r.Centroid.X),
			strconv.Itoa(r.Voxels),
			strconv.FormatFloat(r.IntensitySum, 'g', -1, 64),
			strconv.Itoa(r.InputSpots),
			strconv.Itoa(r.NumSpots),
		}
	}
	return writeCSV(path, regionHeader, rows)
}

// ReadSpots reads a table written by WriteSpots. Columns are located by
// header name; only z, y and x are required. A missing label column leaves
// spots unassigned. in_cell is derived from the label and, when present,
// must agree with it.
func ReadSpots(path string) (detection.SpotTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"z", "y", "x"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, name)
		}
	}

	spots := detection.SpotTable{}
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		var s detection.Spot
		s.Cell = detection.Unassigned
		var coord [3]int
		for k, name := range []string{"z", "y", "x"} {
			if coord[k], err = strconv.Atoi(record[col[name]]); err != nil {
				return nil, fmt.Errorf("%s line %d: bad %s: %w", path, line, name, err)
			}
		}
		s.Coord = models.Coord{Z: coord[0], Y: coord[1], X: coord[2]}

		if i, ok := col["intensity_LoG"]; ok {
			if s.IntensityLoG, err = strconv.ParseFloat(record[i], 64); err != nil {
				return nil, fmt.Errorf("%s line %d: bad intensity_LoG: %w", path, line, err)
			}
		}
		if i, ok := col["label"]; ok {
			label, err := strconv.Atoi(record[i])
			if err != nil {
				return nil, fmt.Errorf("%s line %d: bad label: %w", path, line, err)
			}
			s.Cell = detection.AssignmentFor(label)
			if j, ok := col["in_cell"]; ok {
				inCell, err := strconv.ParseBool(record[j])
				if err != nil {
					return nil, fmt.Errorf("%s line %d: bad in_cell: %w", path, line, err)
				}
				if inCell != s.Cell.InCell {
					return nil, fmt.Errorf("%w: %s line %d: in_cell %s contradicts label %d",
						models.ErrInvalidParameter, path, line, record[j], label)
				}
			}
		}
		spots = append(spots, s)
	}
	return spots, nil
}
