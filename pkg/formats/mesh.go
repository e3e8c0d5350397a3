package formats

import (
	"fmt"

	mathx "github.com/Faultbox/guardian-tools/pkg/math"
)

// Skinning constants.
const (
	// MaxBoneInfluences is the fixed influence count per vertex.
	MaxBoneInfluences = 4

	// NoBone marks an unused weight slot.
	NoBone int32 = -1

	// weightTolerance is the allowed deviation of a weight sum from 1
	// before renormalization kicks in.
	weightTolerance = 1e-4

	// minWeight is the influence threshold below which a slot is dropped,
	// matching the importer the format was reverse-engineered from.
	minWeight = 1e-5
)

// BoneWeight is one skin influence. Bone indexes the skeleton's bone
// table when a skeleton was supplied at decode time, otherwise the mesh's
// skin palette.
type BoneWeight struct {
	Bone   int32
	Weight float32
}

// Vertex is a unified vertex record, normalized from either on-disk
// layout.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
	Weights  [MaxBoneInfluences]BoneWeight
}

// Submesh is a contiguous index range drawn with one material.
type Submesh struct {
	Name       string
	IndexStart int // offset into Mesh.Indices
	IndexCount int
	Material   int // index into the decoded material list
}

// Mesh is decoded geometry for one render extension. It owns its vertex
// and index data; bone indices reference the skeleton, which it does not
// own.
type Mesh struct {
	Name      string
	Vertices  []Vertex
	Indices   []uint32 // mesh-local triangle list
	Submeshes []Submesh

	// Skin palette, present when the container carries a skin cluster
	// for this mesh. InverseBind are the inverse world bind matrices in
	// palette order.
	BoneNames   []string
	InverseBind []mathx.Mat4

	// SkinWarnings records vertices whose raw weights summed to zero.
	// Each entry wraps ErrDegenerateSkinWeights; such vertices are bound
	// to the skeleton's first root so they stay placeable.
	SkinWarnings []error
}

// Skinned reports whether any vertex has a bone influence.
func (m *Mesh) Skinned() bool {
	for i := range m.Vertices {
		if m.Vertices[i].Weights[0].Bone != NoBone {
			return true
		}
	}
	return false
}

// DecodeMesh builds a Mesh from a render extension's slice of the shared
// geometry buffer. weights may be nil for rigid meshes; skel may be nil,
// in which case skin indices stay in palette space. Positions are scaled
// by scale.
func DecodeMesh(b *BOD, rext RenderExtDef, geo *GeometryData, elems []uint32, weights *WeightData, skel *Skeleton, scale float32) (*Mesh, error) {
	baseV, numV := int(rext.BaseVertexIndex), int(rext.NumVerts)
	if baseV < 0 || numV < 0 || baseV+numV > geo.Count() {
		return nil, decodeErr(rext.Name, 0, fmt.Errorf("%w: vertex range [%d:%d] of %d",
			ErrTruncatedBOD, baseV, baseV+numV, geo.Count()))
	}
	baseE, numE := int(rext.BaseElemIndex), int(rext.NumElems)
	if baseE < 0 || numE < 0 || baseE+numE > len(elems) {
		return nil, decodeErr(rext.Name, 0, fmt.Errorf("%w: element range [%d:%d] of %d",
			ErrTruncatedBOD, baseE, baseE+numE, len(elems)))
	}

	m := &Mesh{
		Name:     rext.Name,
		Vertices: make([]Vertex, numV),
		Indices:  make([]uint32, numE),
	}
	copy(m.Indices, elems[baseE:baseE+numE])

	for i := 0; i < numV; i++ {
		v := &m.Vertices[i]
		v.Position = geo.Positions[baseV+i]
		v.Position[0] *= scale
		v.Position[1] *= scale
		v.Position[2] *= scale
		v.Normal = geo.Normals[baseV+i]
		v.UV = geo.UVs[baseV+i]
		for j := range v.Weights {
			v.Weights[j] = BoneWeight{Bone: NoBone}
		}
	}

	cluster := b.SkinClusterFor(rext.Name)
	if cluster != nil {
		m.BoneNames = cluster.BoneNames
		m.InverseBind = cluster.BindPoseMatrices
		if weights != nil {
			if err := m.applyWeights(weights, cluster, skel); err != nil {
				return nil, err
			}
		}
	}

	if err := m.buildSubmeshes(b, rext); err != nil {
		return nil, err
	}
	return m, nil
}

// applyWeights fills vertex influences from the weights sidecar,
// remapping palette indices to skeleton indices when a skeleton is
// available. Zero-sum vertices fall back to the skeleton's first root and
// are flagged; weight rows missing at the end of a short sidecar leave
// those vertices rigid.
func (m *Mesh) applyWeights(weights *WeightData, cluster *SkinClusterDef, skel *Skeleton) error {
	fallback := NoBone
	if skel != nil {
		if roots := skel.Roots(); len(roots) > 0 {
			fallback = int32(roots[0])
		}
	}

	for i := range m.Vertices {
		if i >= len(weights.Weights) {
			break
		}
		raw := weights.Weights[i]
		idx := weights.Indices[i]

		var sum float32
		for j := 0; j < MaxBoneInfluences; j++ {
			if int(idx[j]) < len(cluster.BoneNames) {
				sum += raw[j]
			}
		}
		if sum == 0 {
			m.SkinWarnings = append(m.SkinWarnings,
				fmt.Errorf("%w: vertex %d of mesh %q", ErrDegenerateSkinWeights, i, m.Name))
			if fallback != NoBone {
				m.Vertices[i].Weights[0] = BoneWeight{Bone: fallback, Weight: 1}
			}
			continue
		}

		invSum := float32(1)
		if diff := sum - 1; diff > weightTolerance || diff < -weightTolerance {
			invSum = 1 / sum
		}

		slot := 0
		for j := 0; j < MaxBoneInfluences && slot < MaxBoneInfluences; j++ {
			ci := int(idx[j])
			if ci >= len(cluster.BoneNames) {
				continue
			}
			w := raw[j] * invSum
			if w <= minWeight {
				continue
			}
			bone := int32(ci)
			if skel != nil {
				si, ok := skel.BoneIndex(cluster.BoneNames[ci])
				if !ok {
					continue
				}
				bone = int32(si)
			}
			m.Vertices[i].Weights[slot] = BoneWeight{Bone: bone, Weight: w}
			slot++
		}
	}
	return nil
}

func (m *Mesh) buildSubmeshes(b *BOD, rext RenderExtDef) error {
	for _, ref := range rext.Batches {
		batch, ok := b.Batches[ref.Name]
		if !ok {
			continue
		}
		matIdx, ok := b.MaterialIndex(batch.MaterialDefinition.Name)
		if !ok {
			return decodeErr(rext.Name, 0, fmt.Errorf("%w: batch %q material %q",
				ErrSubmeshMaterialOutOfRange, batch.Name, batch.MaterialDefinition.Name))
		}
		start := int(batch.Start) - int(rext.BaseElemIndex)
		count := int(batch.NumTris) * 3
		if start < 0 || count < 0 || start+count > len(m.Indices) {
			return decodeErr(rext.Name, 0, fmt.Errorf("%w: batch %q index range [%d:%d] of %d",
				ErrTruncatedBOD, batch.Name, start, start+count, len(m.Indices)))
		}
		m.Submeshes = append(m.Submeshes, Submesh{
			Name:       batch.Name,
			IndexStart: start,
			IndexCount: count,
			Material:   matIdx,
		})
	}
	return nil
}
