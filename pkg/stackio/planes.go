// Package stackio reads and writes the files a detection run consumes and
// produces: per-plane TIFF directories, .npy volumes and masks, and spot
// tables as CSV.
package stackio

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"flofish/internal/models"
)

// LoadPlanes reads every TIFF file in dir as one z-plane. Planes are ordered
// by the number embedded in their file names.
func LoadPlanes(dir string) ([]models.Plane, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	// Filter and sort TIFF files
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".tif" || ext == ".tiff" {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no TIFF planes found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		numI := extractNumber(files[i])
		numJ := extractNumber(files[j])
		if numI != numJ {
			return numI < numJ
		}
		return files[i] < files[j]
	})

	planes := make([]models.Plane, 0, len(files))
	for i, name := range files {
		img, err := loadTIFF(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load plane %s: %w", name, err)
		}
		planes = append(planes, models.Plane{Image: img, Index: i, Filename: name})
	}
	return planes, nil
}

// VolumeFromPlanes stacks planes into a volume. All planes must share one
// size.
func VolumeFromPlanes(planes []models.Plane) (*models.Volume, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("%w: no planes", models.ErrShapeMismatch)
	}
	bounds := planes[0].Image.Bounds()
	v := models.NewVolume(len(planes), bounds.Dy(), bounds.Dx())
	for z, p := range planes {
		b := p.Image.Bounds()
		if b.Dx() != v.Width || b.Dy() != v.Height {
			return nil, fmt.Errorf("%w: plane %s is %dx%d, expected %dx%d",
				models.ErrShapeMismatch, p.Filename, b.Dx(), b.Dy(), v.Width, v.Height)
		}
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				v.Set(z, y, x, pixelValue(p.Image, b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	return v, nil
}

// LoadVolume reads a volume from a TIFF plane directory, a .npy file or a
// single TIFF image (one plane).
func LoadVolume(path string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		planes, err := LoadPlanes(path)
		if err != nil {
			return nil, err
		}
		return VolumeFromPlanes(planes)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return LoadVolumeNPY(path)
	case ".tif", ".tiff":
		img, err := loadTIFF(path)
		if err != nil {
			return nil, err
		}
		return VolumeFromPlanes([]models.Plane{{Image: img, Filename: filepath.Base(path)}})
	default:
		return nil, fmt.Errorf("unsupported volume format %q", filepath.Ext(path))
	}
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

func loadTIFF(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return tiff.Decode(file)
}

// pixelValue returns the raw sample of a grayscale pixel: 8-bit images keep
// their 0-255 range and 16-bit images their 0-65535 range. Color images are
// reduced to 16-bit luminance.
func pixelValue(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}
