package formats

import (
	"errors"
	"math"
	"testing"
)

// cdatFile frames a payload with the 16-byte sidecar header.
func cdatFile(layout int16, stride int32, payload []byte) []byte {
	buf := []byte(cdatMagic)
	buf = append(buf, byte(layout), byte(layout>>8))
	buf = append(buf, 0, 0) // reserved
	buf = le32(buf, stride)
	buf = le32(buf, int32(len(payload)))
	return append(buf, payload...)
}

type testVert struct {
	pos [3]float32
	nrm [3]int8
	uv  [2]float32
}

var quadVerts = []testVert{
	{pos: [3]float32{0, 0, 0}, nrm: [3]int8{0, 0, 127}, uv: [2]float32{0, 0}},
	{pos: [3]float32{1, 0, 0}, nrm: [3]int8{0, 0, 127}, uv: [2]float32{1, 0}},
	{pos: [3]float32{0, 1, 0}, nrm: [3]int8{0, 127, 0}, uv: [2]float32{0, 1}},
}

func interleavedGeometry(verts []testVert) []byte {
	var p []byte
	for _, v := range verts {
		p = lef32(p, v.pos[0])
		p = lef32(p, v.pos[1])
		p = lef32(p, v.pos[2])
		p = append(p, byte(v.nrm[0]), byte(v.nrm[1]), byte(v.nrm[2]), 0)
		p = append(p, make([]byte, 8)...) // reserved
		p = lef32(p, v.uv[0])
		p = lef32(p, v.uv[1])
	}
	return cdatFile(LayoutInterleaved, GeometryStride, p)
}

func planarGeometry(verts []testVert) []byte {
	var p []byte
	for _, v := range verts {
		p = lef32(p, v.pos[0])
		p = lef32(p, v.pos[1])
		p = lef32(p, v.pos[2])
	}
	for _, v := range verts {
		p = append(p, byte(v.nrm[0]), byte(v.nrm[1]), byte(v.nrm[2]), 0)
	}
	p = append(p, make([]byte, 8*len(verts))...) // reserved
	for _, v := range verts {
		p = lef32(p, v.uv[0])
		p = lef32(p, v.uv[1])
	}
	return cdatFile(LayoutPlanar, GeometryStride, p)
}

func elementBuffer(tris ...[3]uint16) []byte {
	var p []byte
	for _, tri := range tris {
		for _, idx := range tri {
			p = append(p, byte(idx), byte(idx>>8))
		}
	}
	return cdatFile(0, ElementStride, p)
}

func floatWeights(rows ...[8]float32) []byte {
	var p []byte
	for _, r := range rows {
		for j := 0; j < 4; j++ {
			p = le32(p, int32(r[j]))
		}
		for j := 4; j < 8; j++ {
			p = lef32(p, r[j])
		}
	}
	return cdatFile(0, WeightStrideFloat, p)
}

func TestParseGeometryLayouts(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"interleaved", interleavedGeometry(quadVerts)},
		{"planar", planarGeometry(quadVerts)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseGeometry(tt.data)
			if err != nil {
				t.Fatalf("ParseGeometry: %v", err)
			}
			if g.Count() != len(quadVerts) {
				t.Fatalf("count = %d, want %d", g.Count(), len(quadVerts))
			}
			for i, want := range quadVerts {
				if g.Positions[i] != want.pos {
					t.Errorf("vertex %d position = %v, want %v", i, g.Positions[i], want.pos)
				}
				if g.UVs[i] != want.uv {
					t.Errorf("vertex %d uv = %v, want %v", i, g.UVs[i], want.uv)
				}
				for k := 0; k < 3; k++ {
					want := float32(quadVerts[i].nrm[k]) / 127
					if math.Abs(float64(g.Normals[i][k]-want)) > 1e-6 {
						t.Errorf("vertex %d normal[%d] = %v, want %v", i, k, g.Normals[i][k], want)
					}
				}
			}
		})
	}
}

func TestParseGeometryErrors(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		data := interleavedGeometry(quadVerts)
		copy(data, "XXXX")
		_, err := ParseGeometry(data)
		if !errors.Is(err, ErrInvalidCDATMagic) {
			t.Errorf("err = %v, want ErrInvalidCDATMagic", err)
		}
	})
	t.Run("wrong stride", func(t *testing.T) {
		_, err := ParseGeometry(cdatFile(LayoutInterleaved, 0x10, make([]byte, 0x10)))
		if !errors.Is(err, ErrUnsupportedStride) {
			t.Errorf("err = %v, want ErrUnsupportedStride", err)
		}
	})
	t.Run("unknown layout", func(t *testing.T) {
		_, err := ParseGeometry(cdatFile(7, GeometryStride, make([]byte, GeometryStride)))
		if !errors.Is(err, ErrUnsupportedStride) {
			t.Errorf("err = %v, want ErrUnsupportedStride", err)
		}
	})
}

func TestParseElements(t *testing.T) {
	data := elementBuffer([3]uint16{0, 1, 2}, [3]uint16{2, 1, 3})

	got, err := ParseElements(data, false)
	if err != nil {
		t.Fatalf("ParseElements: %v", err)
	}
	want := []uint32{0, 1, 2, 2, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("indices = %v, want %v", got, want)
		}
	}

	flipped, err := ParseElements(data, true)
	if err != nil {
		t.Fatalf("ParseElements flipped: %v", err)
	}
	wantFlipped := []uint32{0, 2, 1, 2, 3, 1}
	for i := range wantFlipped {
		if flipped[i] != wantFlipped[i] {
			t.Fatalf("flipped indices = %v, want %v", flipped, wantFlipped)
		}
	}
}

func TestParseWeightsFloat(t *testing.T) {
	data := floatWeights(
		[8]float32{0, 1, 0, 0, 0.75, 0.25, 0, 0},
		[8]float32{1, 0, 0, 0, 1, 0, 0, 0},
	)
	w, err := ParseWeights(data)
	if err != nil {
		t.Fatalf("ParseWeights: %v", err)
	}
	if len(w.Indices) != 2 {
		t.Fatalf("rows = %d, want 2", len(w.Indices))
	}
	if w.Indices[0] != [4]uint32{0, 1, 0, 0} {
		t.Errorf("row 0 indices = %v", w.Indices[0])
	}
	if w.Weights[0] != [4]float32{0.75, 0.25, 0, 0} {
		t.Errorf("row 0 weights = %v", w.Weights[0])
	}
}

func TestParseWeightsByte(t *testing.T) {
	var p []byte
	for _, idx := range [4]uint32{2, 0, 0, 0} {
		p = le32(p, int32(idx))
	}
	p = append(p, 255, 0, 0, 0)
	data := cdatFile(0, WeightStrideByte, p)

	w, err := ParseWeights(data)
	if err != nil {
		t.Fatalf("ParseWeights: %v", err)
	}
	if len(w.Weights) != 1 {
		t.Fatalf("rows = %d, want 1", len(w.Weights))
	}
	if w.Indices[0][0] != 2 {
		t.Errorf("index = %d, want 2", w.Indices[0][0])
	}
	if math.Abs(float64(w.Weights[0][0]-1)) > 1e-6 {
		t.Errorf("weight = %v, want 1", w.Weights[0][0])
	}
}

func TestParseWeightsUnsupportedStride(t *testing.T) {
	_, err := ParseWeights(cdatFile(0, 0x40, make([]byte, 0x40)))
	if !errors.Is(err, ErrUnsupportedStride) {
		t.Errorf("err = %v, want ErrUnsupportedStride", err)
	}
}
