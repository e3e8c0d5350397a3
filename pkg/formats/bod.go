// Package formats provides decoders for The Last Guardian asset files:
// .BOD containers, their CDAT sidecar buffers, and .DATA animations.
//
// A .BOD container is a string table plus a sequence of typed object
// blocks; each block carries length-prefixed property chunks tagged by
// string-table index.
package formats

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Faultbox/guardian-tools/pkg/bin"
	mathx "github.com/Faultbox/guardian-tools/pkg/math"
)

// Sanity caps for count fields read from untrusted containers.
const (
	maxBODObjects = 1 << 20
	maxBODStrings = 1 << 20
	maxRefList    = 1 << 16
	maxBoneList   = 1 << 14
)

// ObjectRef references another container object by type and name.
type ObjectRef struct {
	Type string
	Name string
}

// IsZero reports whether the reference is unset.
func (r ObjectRef) IsZero() bool {
	return r.Name == ""
}

// SceneRootDef is the container's entry object: it lists the scene's
// children and names the geometry buffer shared by all meshes.
type SceneRootDef struct {
	Name           string
	Children       []ObjectRef
	GeometryBuffer ObjectRef
}

// SkeletonDef lists the container names of the skeleton's bone objects,
// in table order.
type SkeletonDef struct {
	Name  string
	Bones []string
}

// BoneDef is a raw bone record. RootPosition/RootRotation are the local
// bind-pose transform; Parent may reference a bone that appears later in
// the table.
type BoneDef struct {
	Name         string
	AssetName    string
	Parent       ObjectRef
	RootPosition [3]float32
	RootRotation [4]float32 // x, y, z, w
}

// MeshDef names a mesh and its render extension objects.
type MeshDef struct {
	Name       string
	Extensions []ObjectRef
}

// RenderExtDef carves a mesh's vertex and element ranges out of the
// shared geometry buffer and lists its material batches.
type RenderExtDef struct {
	Name            string
	BaseVertexIndex int32
	NumVerts        int32
	BaseElemIndex   int32
	NumElems        int32
	Batches         []ObjectRef
}

// RenderBatchDef binds an element sub-range to one material.
type RenderBatchDef struct {
	Name               string
	MaterialDefinition ObjectRef
	Start              int32
	NumTris            int32
}

// SkinClusterDef carries a mesh's skinning palette: bone names in weight
// index order plus their inverse world bind matrices.
type SkinClusterDef struct {
	Name             string
	BoneNames        []string
	BindPoseMatrices []mathx.Mat4
}

// GeometryBufferDef names the sidecar CDAT files holding vertex and
// element data.
type GeometryBufferDef struct {
	Name  string
	Verts ObjectRef
	Elems ObjectRef
}

// MaterialDef holds the raw texture slot references of one material.
// Slot names are relative texture paths, unresolved.
type MaterialDef struct {
	Name     string
	Albedo   ObjectRef
	Normal   ObjectRef
	Emissive ObjectRef
	Specular ObjectRef
}

// BOD is a parsed .BOD container.
type BOD struct {
	Strings         []string
	SceneRoots      []SceneRootDef
	Skeletons       []SkeletonDef
	Bones           map[string]BoneDef
	Meshes          []MeshDef
	RenderExts      map[string]RenderExtDef
	Batches         map[string]RenderBatchDef
	SkinClusters    []SkinClusterDef
	GeometryBuffers map[string]GeometryBufferDef
	Materials       []MaterialDef

	// Truncated is set when the object stream ended on a chunk whose
	// declared length ran past the buffer. Objects decoded before that
	// point are kept.
	Truncated bool

	materialIndex map[string]int
}

func newBOD() *BOD {
	return &BOD{
		Bones:           make(map[string]BoneDef),
		RenderExts:      make(map[string]RenderExtDef),
		Batches:         make(map[string]RenderBatchDef),
		GeometryBuffers: make(map[string]GeometryBufferDef),
		materialIndex:   make(map[string]int),
	}
}

// ParseBOD parses a .BOD container from a byte slice.
func ParseBOD(data []byte) (*BOD, error) {
	c := bin.NewCursor(data)

	var hdr [7]int32
	for i := range hdr {
		v, err := c.Int32()
		if err != nil {
			return nil, decodeErr("header", c.Pos(), ErrTruncatedBOD)
		}
		hdr[i] = v
	}

	dataOffset := int(hdr[2])
	stringOffset := int(hdr[3])
	objectCount := int(hdr[6])

	if dataOffset < 0 || dataOffset > len(data) ||
		stringOffset < 0 || stringOffset > len(data) ||
		objectCount < 0 || objectCount > maxBODObjects {
		return nil, decodeErr("header", 0, fmt.Errorf("%w: data=%#x strings=%#x objects=%d",
			ErrInvalidBODHeader, dataOffset, stringOffset, objectCount))
	}

	b := newBOD()
	if err := b.parseStrings(c, stringOffset); err != nil {
		return nil, err
	}

	pos := dataOffset
	for i := 0; i < objectCount; i++ {
		next, err := b.parseObject(data, pos)
		if err != nil {
			return nil, err
		}
		if next < 0 {
			b.Truncated = true
			break
		}
		pos = next
	}

	return b, nil
}

// ParseBODFile parses a .BOD container from disk.
func ParseBODFile(path string) (*BOD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading BOD file: %w", err)
	}
	b, err := ParseBOD(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Path = path
		}
		return nil, err
	}
	return b, nil
}

func (b *BOD) parseStrings(c *bin.Cursor, offset int) error {
	if err := c.Seek(offset); err != nil {
		return decodeErr("string table", offset, err)
	}
	count, err := c.Int32()
	if err != nil {
		return decodeErr("string table", c.Pos(), ErrTruncatedBOD)
	}
	if count < 0 || count > maxBODStrings {
		return decodeErr("string table", offset, fmt.Errorf("%w: string count %d", ErrInvalidBODHeader, count))
	}
	b.Strings = make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		s, err := c.PrefixedString()
		if err != nil {
			return decodeErr("string table", c.Pos(), fmt.Errorf("%w: string %d", ErrTruncatedBOD, i))
		}
		b.Strings = append(b.Strings, s)
	}
	return nil
}

func (b *BOD) str(idx int32) (string, error) {
	if idx < 0 || int(idx) >= len(b.Strings) {
		return "", fmt.Errorf("%w: %d of %d", ErrBadStringIndex, idx, len(b.Strings))
	}
	return b.Strings[idx], nil
}

// objectProps accumulates every property an object block may carry; the
// object type then picks the fields it cares about.
type objectProps struct {
	refs         map[string]ObjectRef
	lists        map[string][]ObjectRef
	bones        []string
	boneNames    []string
	bindPose     []mathx.Mat4
	ints         map[string]int32
	assetName    string
	rootPosition [3]float32
	rootRotation [4]float32
}

// parseObject decodes one object block starting at pos and returns the
// offset of the next block. A next offset of -1 means the property stream
// was truncated and object parsing should stop.
func (b *BOD) parseObject(data []byte, pos int) (int, error) {
	c := bin.NewCursor(data)
	if err := c.Seek(pos); err != nil {
		return 0, decodeErr("object block", pos, err)
	}

	typeIdx, err := c.Int32()
	if err != nil {
		return 0, decodeErr("object block", pos, ErrTruncatedBOD)
	}
	nameIdx, err := c.Int32()
	if err != nil {
		return 0, decodeErr("object block", pos, ErrTruncatedBOD)
	}
	if _, err := c.Int32(); err != nil { // reserved
		return 0, decodeErr("object block", pos, ErrTruncatedBOD)
	}

	typ, err := b.str(typeIdx)
	if err != nil {
		return 0, decodeErr("object block", pos, err)
	}
	name, err := b.str(nameIdx)
	if err != nil {
		return 0, decodeErr(typ, pos, err)
	}

	w, err := bin.NewWalker(data, c.Pos())
	if err != nil {
		return 0, decodeErr(typ, c.Pos(), err)
	}

	p := objectProps{
		refs:         make(map[string]ObjectRef),
		lists:        make(map[string][]ObjectRef),
		ints:         make(map[string]int32),
		rootRotation: [4]float32{0, 0, 0, 1},
	}

	for {
		ch, ok := w.Next()
		if !ok {
			break
		}
		prop, err := b.str(ch.Tag)
		if err != nil {
			continue // unknown tag, chunk already skipped by length
		}
		pc, err := w.Payload(ch)
		if err != nil {
			continue
		}
		b.decodeProp(&p, prop, pc)
	}
	if w.Truncated() {
		return -1, nil
	}

	b.addObject(typ, name, &p)
	return w.Pos(), nil
}

// decodeProp fills one property. Malformed payloads are skipped: the
// walker has already advanced past the chunk, so nothing downstream
// desynchronizes.
func (b *BOD) decodeProp(p *objectProps, prop string, pc *bin.Cursor) {
	switch prop {
	case "parent", "geometryBuffer", "verts", "elems",
		"albedo", "normal", "emissive", "specular", "materialDefinition":
		if ref, err := b.readRef(pc); err == nil {
			p.refs[prop] = ref
		}

	case "children", "extensions", "batches":
		p.lists[prop] = b.readRefList(pc)

	case "bones":
		count, err := pc.Int32()
		if err != nil || count < 0 || count > maxBoneList {
			return
		}
		for i := int32(0); i < count; i++ {
			if _, err := pc.Int32(); err != nil { // reserved
				return
			}
			idx, err := pc.Int32()
			if err != nil {
				return
			}
			if s, err := b.str(idx); err == nil {
				p.bones = append(p.bones, s)
			}
		}

	case "boneNames":
		count, err := pc.Int32()
		if err != nil || count < 0 || count > maxBoneList {
			return
		}
		for i := int32(0); i < count; i++ {
			idx, err := pc.Int32()
			if err != nil {
				return
			}
			if s, err := b.str(idx); err == nil {
				p.boneNames = append(p.boneNames, s)
			}
		}

	case "bindPoseMatrices":
		count, err := pc.Int32()
		if err != nil || count < 0 || count > maxBoneList {
			return
		}
		for i := int32(0); i < count; i++ {
			var f [16]float32
			for j := range f {
				v, err := pc.Float32()
				if err != nil {
					return
				}
				f[j] = v
			}
			p.bindPose = append(p.bindPose, mathx.Mat4FromSlice(f[:]))
		}

	case "baseVertexIndex", "numVerts", "baseElemIndex", "numElems", "start", "numTris":
		if v, err := pc.Int32(); err == nil {
			p.ints[prop] = v
		}

	case "assetName":
		idx, err := pc.Int32()
		if err != nil {
			return
		}
		if s, err := b.str(idx); err == nil {
			p.assetName = s
		}

	case "rootPosition":
		if v, err := pc.Vec3(); err == nil {
			p.rootPosition = v // trailing w component ignored
		}

	case "rootRotation":
		if v, err := pc.Vec4(); err == nil {
			p.rootRotation = v
		}
	}
}

func (b *BOD) readRef(c *bin.Cursor) (ObjectRef, error) {
	typeIdx, err := c.Int32()
	if err != nil {
		return ObjectRef{}, err
	}
	nameIdx, err := c.Int32()
	if err != nil {
		return ObjectRef{}, err
	}
	typ, err := b.str(typeIdx)
	if err != nil {
		return ObjectRef{}, err
	}
	name, err := b.str(nameIdx)
	if err != nil {
		return ObjectRef{}, err
	}
	return ObjectRef{Type: typ, Name: name}, nil
}

func (b *BOD) readRefList(c *bin.Cursor) []ObjectRef {
	count, err := c.Int32()
	if err != nil || count < 0 || count > maxRefList {
		return nil
	}
	refs := make([]ObjectRef, 0, count)
	for i := int32(0); i < count; i++ {
		ref, err := b.readRef(c)
		if err != nil {
			break
		}
		refs = append(refs, ref)
	}
	return refs
}

func (b *BOD) addObject(typ, name string, p *objectProps) {
	switch typ {
	case "SceneRoot":
		b.SceneRoots = append(b.SceneRoots, SceneRootDef{
			Name:           name,
			Children:       p.lists["children"],
			GeometryBuffer: p.refs["geometryBuffer"],
		})
	case "Skeleton":
		b.Skeletons = append(b.Skeletons, SkeletonDef{Name: name, Bones: p.bones})
	case "Bone":
		b.Bones[name] = BoneDef{
			Name:         name,
			AssetName:    p.assetName,
			Parent:       p.refs["parent"],
			RootPosition: p.rootPosition,
			RootRotation: p.rootRotation,
		}
	case "Mesh":
		b.Meshes = append(b.Meshes, MeshDef{Name: name, Extensions: p.lists["extensions"]})
	case "RenderExt":
		b.RenderExts[name] = RenderExtDef{
			Name:            name,
			BaseVertexIndex: p.ints["baseVertexIndex"],
			NumVerts:        p.ints["numVerts"],
			BaseElemIndex:   p.ints["baseElemIndex"],
			NumElems:        p.ints["numElems"],
			Batches:         p.lists["batches"],
		}
	case "RenderBatch":
		b.Batches[name] = RenderBatchDef{
			Name:               name,
			MaterialDefinition: p.refs["materialDefinition"],
			Start:              p.ints["start"],
			NumTris:            p.ints["numTris"],
		}
	case "SkinCluster":
		b.SkinClusters = append(b.SkinClusters, SkinClusterDef{
			Name:             name,
			BoneNames:        p.boneNames,
			BindPoseMatrices: p.bindPose,
		})
	case "GeometryBuffer":
		b.GeometryBuffers[name] = GeometryBufferDef{
			Name:  name,
			Verts: p.refs["verts"],
			Elems: p.refs["elems"],
		}
	case "MaterialDefinition":
		if _, dup := b.materialIndex[name]; !dup {
			b.materialIndex[name] = len(b.Materials)
			b.Materials = append(b.Materials, MaterialDef{
				Name:     name,
				Albedo:   p.refs["albedo"],
				Normal:   p.refs["normal"],
				Emissive: p.refs["emissive"],
				Specular: p.refs["specular"],
			})
		}
	default:
		// Texture objects and unrecognized types carry nothing we need.
	}
}

// MaterialIndex returns the position of a material definition in the
// decoded material list.
func (b *BOD) MaterialIndex(name string) (int, bool) {
	i, ok := b.materialIndex[name]
	return i, ok
}

// SkinClusterFor finds the skin cluster serving a render extension.
// Cluster names end with the render extension's name.
func (b *BOD) SkinClusterFor(rextName string) *SkinClusterDef {
	for i := range b.SkinClusters {
		if strings.HasSuffix(b.SkinClusters[i].Name, rextName) {
			return &b.SkinClusters[i]
		}
	}
	return nil
}

// Merge folds another container's objects into b. Dependency files (the
// sibling and MATERIALS containers) mostly contribute material
// definitions, but all object kinds merge; existing names win.
func (b *BOD) Merge(other *BOD) {
	for name, bone := range other.Bones {
		if _, ok := b.Bones[name]; !ok {
			b.Bones[name] = bone
		}
	}
	for name, rext := range other.RenderExts {
		if _, ok := b.RenderExts[name]; !ok {
			b.RenderExts[name] = rext
		}
	}
	for name, batch := range other.Batches {
		if _, ok := b.Batches[name]; !ok {
			b.Batches[name] = batch
		}
	}
	for name, gbuf := range other.GeometryBuffers {
		if _, ok := b.GeometryBuffers[name]; !ok {
			b.GeometryBuffers[name] = gbuf
		}
	}
	b.Skeletons = append(b.Skeletons, other.Skeletons...)
	b.Meshes = append(b.Meshes, other.Meshes...)
	b.SkinClusters = append(b.SkinClusters, other.SkinClusters...)
	for _, mat := range other.Materials {
		if _, dup := b.materialIndex[mat.Name]; !dup {
			b.materialIndex[mat.Name] = len(b.Materials)
			b.Materials = append(b.Materials, mat)
		}
	}
}
