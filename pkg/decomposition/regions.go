package decomposition

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"flofish/internal/models"
)

// denseComponents returns the 6-connected components of voxels strictly above
// threshold. Each component lists flat indices in ascending order; components
// are ordered by their first index.
func denseComponents(v *models.Volume, threshold float64) [][]int {
	shape := v.Shape()
	g := simple.NewUndirectedGraph()
	for i, val := range v.Data {
		if val > threshold {
			g.AddNode(simple.Node(i))
		}
	}
	if g.Nodes().Len() == 0 {
		return nil
	}

	for i, val := range v.Data {
		if !(val > threshold) {
			continue
		}
		c := shape.CoordOf(i)
		if c.X+1 < shape.Width && v.Data[i+1] > threshold {
			g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(i + 1)})
		}
		if c.Y+1 < shape.Height && v.Data[i+shape.Width] > threshold {
			g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(i + shape.Width)})
		}
		plane := shape.Height * shape.Width
		if c.Z+1 < shape.Depth && v.Data[i+plane] > threshold {
			g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(i + plane)})
		}
	}

	var components [][]int
	for _, nodes := range topo.ConnectedComponents(g) {
		ids := make([]int, len(nodes))
		for k, n := range nodes {
			ids[k] = int(n.ID())
		}
		sort.Ints(ids)
		components = append(components, ids)
	}
	sort.Slice(components, func(a, b int) bool {
		return components[a][0] < components[b][0]
	})
	return components
}

// bounds is an inclusive bounding box in voxel coordinates.
type bounds struct {
	Min, Max models.Coord
}

func boundsOf(shape models.Shape, voxels []int) bounds {
	b := bounds{Min: shape.CoordOf(voxels[0]), Max: shape.CoordOf(voxels[0])}
	for _, i := range voxels[1:] {
		c := shape.CoordOf(i)
		b.Min.Z, b.Max.Z = min(b.Min.Z, c.Z), max(b.Max.Z, c.Z)
		b.Min.Y, b.Max.Y = min(b.Min.Y, c.Y), max(b.Max.Y, c.Y)
		b.Min.X, b.Max.X = min(b.Min.X, c.X), max(b.Max.X, c.X)
	}
	return b
}

// grow expands the box by margin voxels per axis, clipped to shape.
func (b bounds) grow(shape models.Shape, mz, myx int) bounds {
	return bounds{
		Min: models.Coord{Z: max(0, b.Min.Z-mz), Y: max(0, b.Min.Y-myx), X: max(0, b.Min.X-myx)},
		Max: models.Coord{
			Z: min(shape.Depth-1, b.Max.Z+mz),
			Y: min(shape.Height-1, b.Max.Y+myx),
			X: min(shape.Width-1, b.Max.X+myx),
		},
	}
}

func (b bounds) shape() models.Shape {
	return models.Shape{
		Depth:  b.Max.Z - b.Min.Z + 1,
		Height: b.Max.Y - b.Min.Y + 1,
		Width:  b.Max.X - b.Min.X + 1,
	}
}

// extractPatch copies the box out of v, subtracting background and clipping
// at zero, and marks the region voxels.
func extractPatch(v *models.Volume, box bounds, voxels []int, background float64) *RegionPatch {
	ps := box.shape()
	residual := models.NewVolume(ps.Depth, ps.Height, ps.Width)
	residual.VoxelSize = v.VoxelSize
	for z := 0; z < ps.Depth; z++ {
		for y := 0; y < ps.Height; y++ {
			for x := 0; x < ps.Width; x++ {
				val := v.At(box.Min.Z+z, box.Min.Y+y, box.Min.X+x) - background
				if val > 0 {
					residual.Set(z, y, x, val)
				}
			}
		}
	}

	shape := v.Shape()
	member := make([]bool, ps.Len())
	for _, i := range voxels {
		c := shape.CoordOf(i)
		member[ps.Index(c.Z-box.Min.Z, c.Y-box.Min.Y, c.X-box.Min.X)] = true
	}
	return &RegionPatch{Origin: box.Min, Residual: residual, Member: member}
}
