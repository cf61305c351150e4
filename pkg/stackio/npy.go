package stackio

import (
	"fmt"

	"github.com/kshedden/gonpy"

	"flofish/internal/models"
	"flofish/pkg/detection"
)

// readNPY reads any numeric .npy array as float64 in row-major order.
func readNPY(path string) ([]int, []float64, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open npy file %s: %w", path, err)
	}

	var data []float64
	switch r.Dtype {
	case "f8":
		data, err = r.GetFloat64()
	case "f4":
		var raw []float32
		if raw, err = r.GetFloat32(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "u1":
		var raw []uint8
		if raw, err = r.GetUint8(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "u2":
		var raw []uint16
		if raw, err = r.GetUint16(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "u4":
		var raw []uint32
		if raw, err = r.GetUint32(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "i2":
		var raw []int16
		if raw, err = r.GetInt16(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "i4":
		var raw []int32
		if raw, err = r.GetInt32(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "i8":
		var raw []int64
		if raw, err = r.GetInt64(); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unsupported npy dtype %q in %s", r.Dtype, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read npy file %s: %w", path, err)
	}

	shape := append([]int(nil), r.Shape...)
	if r.ColumnMajor {
		data = toRowMajor(data, shape)
	}
	return shape, data, nil
}

// toRowMajor reorders Fortran-ordered data into C order.
func toRowMajor(data []float64, shape []int) []float64 {
	out := make([]float64, len(data))
	n := len(shape)
	idx := make([]int, n)
	for c := range out {
		// c is the row-major position; build the column-major offset
		rem := c
		for d := n - 1; d >= 0; d-- {
			idx[d] = rem % shape[d]
			rem /= shape[d]
		}
		f, stride := 0, 1
		for d := 0; d < n; d++ {
			f += idx[d] * stride
			stride *= shape[d]
		}
		out[c] = data[f]
	}
	return out
}

// LoadVolumeNPY reads a (z, y, x) array. A 2-D array becomes a single plane.
func LoadVolumeNPY(path string) (*models.Volume, error) {
	shape, data, err := readNPY(path)
	if err != nil {
		return nil, err
	}
	switch len(shape) {
	case 2:
		return models.VolumeFromData(data, 1, shape[0], shape[1])
	case 3:
		return models.VolumeFromData(data, shape[0], shape[1], shape[2])
	default:
		return nil, fmt.Errorf("%w: %s has %d dimensions, expected 2 or 3", models.ErrShapeMismatch, path, len(shape))
	}
}

// SaveVolumeNPY writes the volume as a (z, y, x) float64 array.
func SaveVolumeNPY(path string, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("cannot create npy file %s: %w", path, err)
	}
	w.Shape = []int{v.Depth, v.Height, v.Width}
	if err := w.WriteFloat64(v.Data); err != nil {
		return fmt.Errorf("failed to write npy file %s: %w", path, err)
	}
	return nil
}

// SaveCandidateMask writes the mask as a (z, y, x) uint8 array of 0/1.
func SaveCandidateMask(path string, mask *detection.CandidateMask) error {
	data := mask.Data()
	raw := make([]uint8, len(data))
	for i, b := range data {
		if b {
			raw[i] = 1
		}
	}
	shape := mask.Shape()
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("cannot create npy file %s: %w", path, err)
	}
	w.Shape = []int{shape.Depth, shape.Height, shape.Width}
	if err := w.WriteUint8(raw); err != nil {
		return fmt.Errorf("failed to write npy file %s: %w", path, err)
	}
	return nil
}

// LoadCandidateMask reads a (z, y, x) mask; every non-zero element is a
// candidate.
func LoadCandidateMask(path string) (*detection.CandidateMask, error) {
	shape, data, err := readNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: %s has %d dimensions, expected 3", models.ErrShapeMismatch, path, len(shape))
	}
	flags := make([]bool, len(data))
	for i, v := range data {
		flags[i] = v != 0
	}
	return detection.NewCandidateMask(models.Shape{Depth: shape[0], Height: shape[1], Width: shape[2]}, flags)
}

// LoadCellMaskNPY reads a 2-D integer label image.
func LoadCellMaskNPY(path string) (*models.CellMask, error) {
	shape, data, err := readNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: cell mask %s has %d dimensions, expected 2", models.ErrShapeMismatch, path, len(shape))
	}
	mask := models.NewCellMask(shape[0], shape[1])
	for i, v := range data {
		mask.Labels[i] = int(v)
	}
	return mask, nil
}
