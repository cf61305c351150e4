package decomposition

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"flofish/internal/models"
)

// isolationDistance is the separation, in spot radii, below which two spots
// are considered neighbors.
const isolationDistance = 2.0

// scaledPoint is a spot position divided by the spot radius along each axis,
// so that one unit is one radius in every direction.
type scaledPoint struct {
	Z, Y, X float64
	index    int
}

// Compare implements kdtree.Comparable.
func (p scaledPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(scaledPoint)
	switch d {
	case 0:
		return p.Z - q.Z
	case 1:
		return p.Y - q.Y
	case 2:
		return p.X - q.X
	default:
		panic("illegal dimension")
	}
}

// Dims implements kdtree.Comparable.
func (p scaledPoint) Dims() int { return 3 }

// Distance implements kdtree.Comparable and returns the squared distance.
func (p scaledPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(scaledPoint)
	dz, dy, dx := p.Z-q.Z, p.Y-q.Y, p.X-q.X
	return dz*dz + dy*dy + dx*dx
}

type scaledPoints []scaledPoint

func (p scaledPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p scaledPoints) Len() int                      { return len(p) }
func (p scaledPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p scaledPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{scaledPoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{scaledPoints: p, Dim: d}, 100))
}

type pointPlane struct {
	scaledPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	return p.scaledPoints[i].Compare(p.scaledPoints[j], p.Dim) < 0
}
func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	p.scaledPoints = p.scaledPoints[start:end]
	return p
}
func (p pointPlane) Swap(i, j int) {
	p.scaledPoints[i], p.scaledPoints[j] = p.scaledPoints[j], p.scaledPoints[i]
}

// isolatedSpots returns, in input order, the indices of spots with no other
// spot closer than isolationDistance radii.
func isolatedSpots(coords []models.Coord, radiusPx models.Triple) []int {
	if len(coords) == 0 {
		return nil
	}
	points := make(scaledPoints, len(coords))
	for i, c := range coords {
		points[i] = scaledPoint{
			Z:     float64(c.Z) / radiusPx.Z,
			Y:     float64(c.Y) / radiusPx.Y,
			X:     float64(c.X) / radiusPx.X,
			index: i,
		}
	}
	query := make([]scaledPoint, len(points))
	copy(query, points)

	// kdtree.New reorders points in place
	tree := kdtree.New(points, false)
	limit := isolationDistance * isolationDistance

	var isolated []int
	for _, q := range query {
		keeper := kdtree.NewDistKeeper(limit)
		tree.NearestSet(keeper, q)
		alone := true
		for _, found := range keeper.Heap {
			if found.Comparable == nil {
				continue
			}
			if found.Comparable.(scaledPoint).index != q.index && found.Dist < limit {
				alone = false
				break
			}
		}
		if alone {
			isolated = append(isolated, q.index)
		}
	}
	return isolated
}

// referenceHalfSize is the crop half-width per axis used to build the
// reference spot: two radii, rounded up.
func referenceHalfSize(radiusPx models.Triple) [3]int {
	var half [3]int
	for axis := 0; axis < 3; axis++ {
		half[axis] = max(1, int(math.Ceil(isolationDistance*radiusPx.Axis(axis))))
	}
	return half
}

// buildReference crops a zero-padded box around every center and takes the
// voxel-wise alpha quantile across crops.
func buildReference(v *models.Volume, centers []models.Coord, half [3]int, alpha float64) *models.Volume {
	ref := models.NewVolume(2*half[0]+1, 2*half[1]+1, 2*half[2]+1)
	ref.VoxelSize = v.VoxelSize
	if len(centers) == 0 {
		return ref
	}

	vals := make([]float64, len(centers))
	for z := 0; z < ref.Depth; z++ {
		for y := 0; y < ref.Height; y++ {
			for x := 0; x < ref.Width; x++ {
				for i, c := range centers {
					src := models.Coord{Z: c.Z + z - half[0], Y: c.Y + y - half[1], X: c.X + x - half[2]}
					if v.Contains(src) {
						vals[i] = v.At(src.Z, src.Y, src.X)
					} else {
						vals[i] = 0
					}
				}
				sort.Float64s(vals)
				ref.Set(z, y, x, stat.Quantile(alpha, stat.Empirical, vals, nil))
			}
		}
	}
	return ref
}
