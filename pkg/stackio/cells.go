package stackio

import (
	"fmt"
	"path/filepath"
	"strings"

	"flofish/internal/models"
)

// LoadCellMask reads a 2-D label image from .npy or a 16-bit TIFF.
func LoadCellMask(path string) (*models.CellMask, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return LoadCellMaskNPY(path)
	case ".tif", ".tiff":
		img, err := loadTIFF(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load cell mask %s: %w", path, err)
		}
		b := img.Bounds()
		mask := models.NewCellMask(b.Dy(), b.Dx())
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				mask.Set(y, x, int(pixelValue(img, b.Min.X+x, b.Min.Y+y)))
			}
		}
		return mask, nil
	default:
		return nil, fmt.Errorf("unsupported cell mask format %q", filepath.Ext(path))
	}
}
