package formats

import (
	"fmt"

	mathx "github.com/Faultbox/guardian-tools/pkg/math"
)

// RootBoneIndex is the parent sentinel for root bones.
const RootBoneIndex = -1

// Transform is a local translation/rotation/scale triple.
type Transform struct {
	Translation mathx.Vec3
	Rotation    mathx.Quat
	Scale       mathx.Vec3
}

// Mat4 composes the transform into a matrix.
func (t Transform) Mat4() mathx.Mat4 {
	return mathx.Compose(t.Translation, t.Rotation, t.Scale)
}

// Bone is one record of a skeleton's bone table.
type Bone struct {
	Index  int
	Name   string
	Parent int // RootBoneIndex for roots
	Local  Transform
	World  mathx.Mat4 // bind pose in skeleton space, ancestors composed
}

// IsRoot reports whether the bone has no parent.
func (b *Bone) IsRoot() bool {
	return b.Parent == RootBoneIndex
}

// Skeleton is an immutable bone forest. It is built once per container
// decode and then shared read-only with mesh and animation decoders, so
// concurrent decodes against one skeleton need no locking.
type Skeleton struct {
	Name  string
	Bones []Bone

	byName map[string]int
}

// NewSkeleton validates a bone table and computes world bind transforms.
// Parent indices must be RootBoneIndex or in range, and the parent graph
// must be acyclic; anything else is ErrInvalidBoneHierarchy.
func NewSkeleton(name string, bones []Bone) (*Skeleton, error) {
	s := &Skeleton{
		Name:   name,
		Bones:  bones,
		byName: make(map[string]int, len(bones)),
	}
	for i := range s.Bones {
		s.Bones[i].Index = i
		s.byName[s.Bones[i].Name] = i
	}

	depths, err := s.validate()
	if err != nil {
		return nil, err
	}
	s.computeWorld(depths)
	return s, nil
}

// validate checks parent ranges and acyclicity, returning each bone's
// depth for the topological world pass. The walk from any bone to its
// root is capped at the bone count: a longer chain can only be a cycle.
func (s *Skeleton) validate() ([]int, error) {
	n := len(s.Bones)
	depths := make([]int, n)
	for i := range s.Bones {
		p := s.Bones[i].Parent
		if p != RootBoneIndex && (p < 0 || p >= n) {
			return nil, fmt.Errorf("%w: bone %q parent index %d of %d",
				ErrInvalidBoneHierarchy, s.Bones[i].Name, p, n)
		}

		depth := 0
		for cur := p; cur != RootBoneIndex; cur = s.Bones[cur].Parent {
			depth++
			if depth > n {
				return nil, fmt.Errorf("%w: cycle through bone %q",
					ErrInvalidBoneHierarchy, s.Bones[i].Name)
			}
		}
		depths[i] = depth
	}
	return depths, nil
}

// computeWorld fills world bind transforms in one parents-before-children
// pass. Iterating by depth bounds stack use on very deep skeletons.
func (s *Skeleton) computeWorld(depths []int) {
	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	for depth := 0; depth <= maxDepth; depth++ {
		for i := range s.Bones {
			if depths[i] != depth {
				continue
			}
			local := s.Bones[i].Local.Mat4()
			if s.Bones[i].Parent == RootBoneIndex {
				s.Bones[i].World = local
			} else {
				s.Bones[i].World = s.Bones[s.Bones[i].Parent].World.Mul(local)
			}
		}
	}
}

// BoneIndex resolves a bone name to its table index.
func (s *Skeleton) BoneIndex(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// Roots returns the indices of all parentless bones.
func (s *Skeleton) Roots() []int {
	var roots []int
	for i := range s.Bones {
		if s.Bones[i].IsRoot() {
			roots = append(roots, i)
		}
	}
	return roots
}

// DecodeSkeleton builds a Skeleton from a container's skeleton object.
// Bone order follows the container's bone list; parents are resolved by
// name in a second pass, so forward references are fine. A parent naming
// a bone outside the list makes that bone a root, matching shipped files
// that reference trimmed-out helper bones. Positions are scaled by scale.
func DecodeSkeleton(b *BOD, def SkeletonDef, scale float32) (*Skeleton, error) {
	indexOf := make(map[string]int, len(def.Bones))
	ordered := make([]BoneDef, 0, len(def.Bones))
	for _, boneName := range def.Bones {
		bd, ok := b.Bones[boneName]
		if !ok || bd.AssetName == "" {
			continue
		}
		indexOf[boneName] = len(ordered)
		ordered = append(ordered, bd)
	}

	bones := make([]Bone, len(ordered))
	for i, bd := range ordered {
		parent := RootBoneIndex
		if !bd.Parent.IsZero() {
			if pi, ok := indexOf[bd.Parent.Name]; ok {
				parent = pi
			}
		}
		q := bd.RootRotation
		bones[i] = Bone{
			Name:   bd.AssetName,
			Parent: parent,
			Local: Transform{
				Translation: mathx.Vec3FromArray(bd.RootPosition).Scale(scale),
				Rotation:    mathx.Quat{X: q[0], Y: q[1], Z: q[2], W: q[3]},
				Scale:       mathx.One(),
			},
		}
	}

	return NewSkeleton(def.Name, bones)
}
