// Package importer orchestrates a full model or animation import: it
// loads a container with its dependencies, decodes the skeleton, meshes
// and materials, and resolves textures.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/guardian-tools/internal/config"
	"github.com/Faultbox/guardian-tools/internal/logger"
	"github.com/Faultbox/guardian-tools/pkg/formats"
	"github.com/Faultbox/guardian-tools/pkg/texture"
)

// Options controls an import. Zero-value fields fall back to the
// documented defaults.
type Options struct {
	// Scale multiplies all positions and translations. Zero means 1.
	Scale float32

	// FlipWinding reverses triangle winding for counter-clockwise
	// consumers.
	FlipWinding bool

	// SkipVariants lists mesh name substrings to skip, typically the
	// fresnel and fur shell variants.
	SkipVariants []string

	// LoadDependencies pulls in sibling containers and the game's
	// MATERIALS tree, which carry material definitions the model file
	// references but does not define.
	LoadDependencies bool

	// TexturesDir overrides the texture directory derived from the
	// model path.
	TexturesDir string

	// Converter turns GNF textures into loadable images. Nil disables
	// texture resolution; materials still decode.
	Converter texture.Converter
}

// FromConfig builds Options from the loaded configuration.
func FromConfig(cfg *config.Config) Options {
	opts := Options{
		Scale:            cfg.Importer.Scale,
		FlipWinding:      cfg.Importer.FlipWinding,
		SkipVariants:     cfg.Importer.SkipVariants,
		LoadDependencies: cfg.Importer.LoadDependencies,
		TexturesDir:      cfg.Textures.Dir,
	}
	if cfg.Textures.ConverterPath != "" {
		opts.Converter = texture.ExeConverter(cfg.Textures.ConverterPath)
	}
	return opts
}

func (o Options) scale() float32 {
	if o.Scale == 0 {
		return 1
	}
	return o.Scale
}

// Model is a fully imported model: skeleton, meshes, materials and
// whatever textures resolved. Warnings aggregates all non-fatal
// problems; a non-nil Warnings still means a usable model.
type Model struct {
	Path      string
	Container *formats.BOD
	Skeleton  *formats.Skeleton
	Meshes    []*formats.Mesh
	Materials []formats.Material

	// Textures holds resolved slots keyed by material name. Materials
	// with no resolved slots are absent.
	Textures map[string][]texture.Resolved

	Warnings error
}

// ImportModel imports a .BOD model file and everything it references.
// Structural decode failures abort the import; texture and per-vertex
// skinning problems are collected into Model.Warnings.
func ImportModel(ctx context.Context, path string, opts Options) (*Model, error) {
	logger.Info("importing model", zap.String("path", path))

	bod, err := formats.ParseBODFile(path)
	if err != nil {
		return nil, err
	}
	if bod.Truncated {
		logger.Warn("container object stream truncated, continuing with decoded objects",
			zap.String("path", path))
	}

	dir := filepath.Dir(path)
	if opts.LoadDependencies {
		loadDependencies(bod, path, dir)
	}

	m := &Model{
		Path:      path,
		Container: bod,
		Materials: formats.DecodeMaterials(bod),
		Textures:  make(map[string][]texture.Resolved),
	}

	if len(bod.Skeletons) > 0 {
		m.Skeleton, err = formats.DecodeSkeleton(bod, bod.Skeletons[0], opts.scale())
		if err != nil {
			return nil, err
		}
		logger.Debug("skeleton decoded",
			zap.String("name", m.Skeleton.Name),
			zap.Int("bones", len(m.Skeleton.Bones)))
	}

	geo, elems, err := loadGeometry(bod, dir, opts.FlipWinding)
	if err != nil {
		return nil, err
	}
	if geo != nil {
		if err := m.decodeMeshes(bod, dir, geo, elems, opts); err != nil {
			return nil, err
		}
	}

	m.resolveTextures(ctx, dir, opts)

	logger.Info("model imported",
		zap.Int("meshes", len(m.Meshes)),
		zap.Int("materials", len(m.Materials)),
		zap.Int("warnings", len(multierr.Errors(m.Warnings))))
	return m, nil
}

// loadDependencies merges sibling containers and the MATERIALS tree.
// A dependency that fails to parse is skipped; the model file itself has
// already parsed.
func loadDependencies(bod *formats.BOD, modelPath, dir string) {
	deps, _ := filepath.Glob(filepath.Join(dir, "*.bod"))
	upper, _ := filepath.Glob(filepath.Join(dir, "*.BOD"))
	deps = append(deps, upper...)

	if gameDir := gameBaseDir(dir); gameDir != "" {
		matDir := filepath.Join(gameDir, "MATERIALS")
		if _, err := os.Stat(matDir); err == nil {
			filepath.WalkDir(matDir, func(p string, d os.DirEntry, err error) error {
				if err == nil && !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".bod") {
					deps = append(deps, p)
				}
				return nil
			})
		}
	}

	self, _ := filepath.Abs(modelPath)
	for _, dep := range deps {
		abs, _ := filepath.Abs(dep)
		if abs == self {
			continue
		}
		other, err := formats.ParseBODFile(dep)
		if err != nil {
			logger.Warn("skipping dependency", zap.String("path", dep), zap.Error(err))
			continue
		}
		bod.Merge(other)
		logger.Debug("dependency merged", zap.String("path", dep))
	}
}

// gameBaseDir finds the outermost GAME directory on the path. Asset
// names can repeat GAME deeper in the tree; the root is the first match.
func gameBaseDir(dir string) string {
	parts := strings.Split(filepath.Clean(dir), string(filepath.Separator))
	for i, p := range parts {
		if strings.EqualFold(p, "GAME") {
			base := filepath.Join(parts[:i+1]...)
			if parts[0] == "" {
				base = string(filepath.Separator) + base
			}
			return base
		}
	}
	return ""
}

// loadGeometry reads the shared vertex and element sidecars named by the
// scene root's geometry buffer. A container without one (a pure skeleton
// or material file) yields nil geometry and no error.
func loadGeometry(bod *formats.BOD, dir string, flipWinding bool) (*formats.GeometryData, []uint32, error) {
	var gbufName string
	for _, root := range bod.SceneRoots {
		if !root.GeometryBuffer.IsZero() {
			gbufName = root.GeometryBuffer.Name
			break
		}
	}
	if gbufName == "" {
		return nil, nil, nil
	}
	gbuf, ok := bod.GeometryBuffers[gbufName]
	if !ok {
		return nil, nil, nil
	}

	vertPath := filepath.Join(dir, sidecarBase(gbuf.Verts.Name)+".data")
	elemPath := filepath.Join(dir, sidecarBase(gbuf.Elems.Name)+".data")

	geo, err := formats.ParseGeometryFile(vertPath)
	if err != nil {
		return nil, nil, fmt.Errorf("geometry sidecar: %w", err)
	}
	elems, err := formats.ParseElementsFile(elemPath, flipWinding)
	if err != nil {
		return nil, nil, fmt.Errorf("element sidecar: %w", err)
	}
	logger.Debug("geometry loaded",
		zap.Int("vertices", geo.Count()),
		zap.Int("indices", len(elems)))
	return geo, elems, nil
}

// sidecarBase strips the container path prefix from a buffer reference.
func sidecarBase(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (m *Model) decodeMeshes(bod *formats.BOD, dir string, geo *formats.GeometryData, elems []uint32, opts Options) error {
	for _, meshDef := range bod.Meshes {
		if skipVariant(meshDef.Name, opts.SkipVariants) {
			logger.Debug("skipping mesh variant", zap.String("name", meshDef.Name))
			continue
		}
		for _, ext := range meshDef.Extensions {
			rext, ok := bod.RenderExts[ext.Name]
			if !ok {
				continue
			}
			weights := loadWeights(dir, rext.Name)
			mesh, err := formats.DecodeMesh(bod, rext, geo, elems, weights, m.Skeleton, opts.scale())
			if err != nil {
				return err
			}
			for _, w := range mesh.SkinWarnings {
				m.Warnings = multierr.Append(m.Warnings, w)
			}
			m.Meshes = append(m.Meshes, mesh)
		}
	}
	return nil
}

func skipVariant(name string, variants []string) bool {
	for _, v := range variants {
		if v != "" && strings.Contains(name, v) {
			return true
		}
	}
	return false
}

// loadWeights finds and parses the weights sidecar for a render
// extension. Rigid meshes have none.
func loadWeights(dir, rextName string) *formats.WeightData {
	matches, _ := filepath.Glob(filepath.Join(dir, "*_"+rextName+".weights"))
	if len(matches) == 0 {
		return nil
	}
	w, err := formats.ParseWeightsFile(matches[0])
	if err != nil {
		logger.Warn("skipping weights sidecar", zap.String("path", matches[0]), zap.Error(err))
		return nil
	}
	return w
}

// resolveTextures resolves every material's slots. All failures are
// warnings: the model stays importable with unassigned textures.
func (m *Model) resolveTextures(ctx context.Context, dir string, opts Options) {
	if opts.Converter == nil {
		return
	}
	root := opts.TexturesDir
	if root == "" {
		var err error
		root, err = texture.TexturesRoot(dir)
		if err != nil {
			m.Warnings = multierr.Append(m.Warnings, err)
			return
		}
	}

	resolver := texture.NewResolver(root, opts.Converter)
	for _, mat := range m.Materials {
		resolved, warns := resolver.Resolve(ctx, mat)
		if warns != nil {
			m.Warnings = multierr.Append(m.Warnings, warns)
		}
		if len(resolved) > 0 {
			m.Textures[mat.Name] = resolved
		}
	}
}

// ImportClip imports a .DATA animation against an already-imported
// skeleton.
func ImportClip(path string, skel *formats.Skeleton, opts Options) (*formats.Clip, error) {
	logger.Info("importing animation", zap.String("path", path))
	clip, err := formats.ParseClipFile(path, skel, opts.scale())
	if err != nil {
		return nil, err
	}
	logger.Debug("animation decoded",
		zap.String("name", clip.Name),
		zap.Int("tracks", len(clip.Tracks)),
		zap.Float32("duration", clip.Duration))
	return clip, nil
}
