package formats

import (
	"fmt"
	"os"

	"github.com/Faultbox/guardian-tools/pkg/bin"
)

// CDAT buffer layout constants, discovered empirically. Future format
// variants get new constants here, not code forks.
const (
	cdatMagic      = "CDAT"
	cdatHeaderSize = 16

	// Layout field values for geometry buffers.
	LayoutInterleaved int16 = 0 // one 0x20 record per vertex
	LayoutPlanar      int16 = 1 // positions, then normals, then UVs

	// Record strides.
	GeometryStride    = 0x20 // position 3f, packed normal 4B, 8 reserved, UV 2f
	ElementStride     = 0x02 // uint16 triangle index
	WeightStrideFloat = 0x20 // 4 uint32 bone indices + 4 float32 weights
	WeightStrideByte  = 0x14 // 4 uint32 bone indices + 4 byte-normalized weights
)

// cdatHeader is the 16-byte header shared by all sidecar buffers.
type cdatHeader struct {
	Layout int16
	Stride int
	Length int
}

func parseCDATHeader(c *bin.Cursor) (cdatHeader, error) {
	magic, err := c.FixedString(4)
	if err != nil {
		return cdatHeader{}, decodeErr("CDAT header", 0, ErrTruncatedBOD)
	}
	if magic != cdatMagic {
		return cdatHeader{}, decodeErr("CDAT header", 0, fmt.Errorf("%w: %q", ErrInvalidCDATMagic, magic))
	}
	layout, err := c.Int16()
	if err != nil {
		return cdatHeader{}, decodeErr("CDAT header", c.Pos(), ErrTruncatedBOD)
	}
	if _, err := c.Int16(); err != nil { // reserved
		return cdatHeader{}, decodeErr("CDAT header", c.Pos(), ErrTruncatedBOD)
	}
	stride, err := c.Int32()
	if err != nil {
		return cdatHeader{}, decodeErr("CDAT header", c.Pos(), ErrTruncatedBOD)
	}
	length, err := c.Int32()
	if err != nil {
		return cdatHeader{}, decodeErr("CDAT header", c.Pos(), ErrTruncatedBOD)
	}
	if stride <= 0 || length < 0 {
		return cdatHeader{}, decodeErr("CDAT header", 0, fmt.Errorf("%w: stride %d length %d", ErrInvalidBODHeader, stride, length))
	}
	return cdatHeader{Layout: layout, Stride: int(stride), Length: int(length)}, nil
}

// GeometryData holds the decoded vertex streams of one geometry buffer,
// as parallel slices regardless of the on-disk layout.
type GeometryData struct {
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
}

// Count returns the vertex count.
func (g *GeometryData) Count() int {
	return len(g.Positions)
}

// ParseGeometry decodes a geometry CDAT buffer. The header's layout field
// selects interleaved records or planar streams; both normalize to the
// same parallel slices.
func ParseGeometry(data []byte) (*GeometryData, error) {
	c := bin.NewCursor(data)
	hdr, err := parseCDATHeader(c)
	if err != nil {
		return nil, err
	}
	if hdr.Stride != GeometryStride {
		return nil, decodeErr("geometry buffer", 0, fmt.Errorf("%w: %#x", ErrUnsupportedStride, hdr.Stride))
	}

	count := hdr.Length / hdr.Stride
	g := &GeometryData{
		Positions: make([][3]float32, 0, count),
		Normals:   make([][3]float32, 0, count),
		UVs:       make([][2]float32, 0, count),
	}

	switch hdr.Layout {
	case LayoutInterleaved:
		for i := 0; i < count; i++ {
			pos, err := c.Vec3()
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			nrm, err := readPackedNormal(c)
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			if err := c.Skip(8); err != nil { // reserved
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			u, err := c.Float32()
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			v, err := c.Float32()
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			g.Positions = append(g.Positions, pos)
			g.Normals = append(g.Normals, nrm)
			g.UVs = append(g.UVs, [2]float32{u, v})
		}

	case LayoutPlanar:
		for i := 0; i < count; i++ {
			pos, err := c.Vec3()
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			g.Positions = append(g.Positions, pos)
		}
		for i := 0; i < count; i++ {
			nrm, err := readPackedNormal(c)
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			g.Normals = append(g.Normals, nrm)
		}
		if err := c.Skip(8 * count); err != nil { // reserved block
			return nil, decodeErr("geometry buffer", c.Pos(), err)
		}
		for i := 0; i < count; i++ {
			u, err := c.Float32()
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			v, err := c.Float32()
			if err != nil {
				return nil, decodeErr("geometry buffer", c.Pos(), err)
			}
			g.UVs = append(g.UVs, [2]float32{u, v})
		}

	default:
		return nil, decodeErr("geometry buffer", 0, fmt.Errorf("%w: layout %d", ErrUnsupportedStride, hdr.Layout))
	}

	return g, nil
}

// readPackedNormal decodes a 4-byte normal: three signed bytes scaled to
// [-1, 1] plus a pad byte.
func readPackedNormal(c *bin.Cursor) ([3]float32, error) {
	var n [3]float32
	for i := range n {
		v, err := c.Int8()
		if err != nil {
			return n, err
		}
		n[i] = float32(v) / 127
	}
	if _, err := c.Uint8(); err != nil { // pad
		return n, err
	}
	return n, nil
}

// ParseElements decodes an element CDAT buffer into a flat triangle index
// list. The file winds triangles clockwise; flipWinding reverses each
// triangle for counter-clockwise consumers.
func ParseElements(data []byte, flipWinding bool) ([]uint32, error) {
	c := bin.NewCursor(data)
	hdr, err := parseCDATHeader(c)
	if err != nil {
		return nil, err
	}
	if hdr.Stride != ElementStride {
		return nil, decodeErr("element buffer", 0, fmt.Errorf("%w: %#x", ErrUnsupportedStride, hdr.Stride))
	}

	triCount := hdr.Length / (hdr.Stride * 3)
	indices := make([]uint32, 0, triCount*3)
	for i := 0; i < triCount; i++ {
		a, err := c.Uint16()
		if err != nil {
			return nil, decodeErr("element buffer", c.Pos(), err)
		}
		bIdx, err := c.Uint16()
		if err != nil {
			return nil, decodeErr("element buffer", c.Pos(), err)
		}
		cIdx, err := c.Uint16()
		if err != nil {
			return nil, decodeErr("element buffer", c.Pos(), err)
		}
		if flipWinding {
			bIdx, cIdx = cIdx, bIdx
		}
		indices = append(indices, uint32(a), uint32(bIdx), uint32(cIdx))
	}
	return indices, nil
}

// WeightData holds raw per-vertex skin influences from a .weights
// sidecar, in mesh-local vertex order. Indices address the mesh's skin
// cluster palette, not the skeleton.
type WeightData struct {
	Indices [][MaxBoneInfluences]uint32
	Weights [][MaxBoneInfluences]float32
}

// ParseWeights decodes a .weights sidecar. The stride selects float or
// byte-normalized weight records; byte weights are rescaled to [0, 1].
func ParseWeights(data []byte) (*WeightData, error) {
	c := bin.NewCursor(data)
	hdr, err := parseCDATHeader(c)
	if err != nil {
		return nil, err
	}
	if hdr.Stride != WeightStrideFloat && hdr.Stride != WeightStrideByte {
		return nil, decodeErr("weight buffer", 0, fmt.Errorf("%w: %#x", ErrUnsupportedStride, hdr.Stride))
	}

	count := hdr.Length / hdr.Stride
	w := &WeightData{
		Indices: make([][MaxBoneInfluences]uint32, 0, count),
		Weights: make([][MaxBoneInfluences]float32, 0, count),
	}
	for i := 0; i < count; i++ {
		var idx [MaxBoneInfluences]uint32
		var wt [MaxBoneInfluences]float32
		for j := range idx {
			v, err := c.Uint32()
			if err != nil {
				return nil, decodeErr("weight buffer", c.Pos(), err)
			}
			idx[j] = v
		}
		for j := range wt {
			if hdr.Stride == WeightStrideFloat {
				v, err := c.Float32()
				if err != nil {
					return nil, decodeErr("weight buffer", c.Pos(), err)
				}
				wt[j] = v
			} else {
				v, err := c.Uint8()
				if err != nil {
					return nil, decodeErr("weight buffer", c.Pos(), err)
				}
				wt[j] = float32(v) / 255
			}
		}
		w.Indices = append(w.Indices, idx)
		w.Weights = append(w.Weights, wt)
	}
	return w, nil
}

// ParseGeometryFile decodes a geometry CDAT buffer from disk.
func ParseGeometryFile(path string) (*GeometryData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geometry buffer: %w", err)
	}
	return ParseGeometry(data)
}

// ParseElementsFile decodes an element CDAT buffer from disk.
func ParseElementsFile(path string, flipWinding bool) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading element buffer: %w", err)
	}
	return ParseElements(data, flipWinding)
}

// ParseWeightsFile decodes a .weights sidecar from disk.
func ParseWeightsFile(path string) (*WeightData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weight buffer: %w", err)
	}
	return ParseWeights(data)
}
