package formats

// blackTexture names the placeholder texture the game assigns to slots
// that are deliberately empty.
const blackTexture = "_black_texture"

// TextureKind identifies a material texture slot.
type TextureKind int

const (
	TextureAlbedo TextureKind = iota
	TextureNormal
	TextureEmissive
	TextureSpecular
)

func (k TextureKind) String() string {
	switch k {
	case TextureAlbedo:
		return "albedo"
	case TextureNormal:
		return "normal"
	case TextureEmissive:
		return "emissive"
	case TextureSpecular:
		return "specular"
	}
	return "unknown"
}

// TextureSlot is one texture reference of a material. Path is the raw
// name from the container, relative to the game's texture tree; an empty
// Path means the slot is unused.
type TextureSlot struct {
	Kind TextureKind
	Path string
}

// Material is a decoded material with its populated texture slots.
type Material struct {
	Name  string
	Slots []TextureSlot
}

// Slot returns the path for a kind, or "" when the material has no such
// slot.
func (m *Material) Slot(kind TextureKind) string {
	for _, s := range m.Slots {
		if s.Kind == kind {
			return s.Path
		}
	}
	return ""
}

// DecodeMaterials flattens the container's material definitions. Slot
// order matches definition order, so Submesh.Material indexes the result
// directly. Placeholder black-texture references decode as absent slots.
func DecodeMaterials(b *BOD) []Material {
	mats := make([]Material, 0, len(b.Materials))
	for _, def := range b.Materials {
		m := Material{Name: def.Name}
		for _, slot := range []struct {
			kind TextureKind
			ref  ObjectRef
		}{
			{TextureAlbedo, def.Albedo},
			{TextureNormal, def.Normal},
			{TextureEmissive, def.Emissive},
			{TextureSpecular, def.Specular},
		} {
			if slot.ref.IsZero() || slot.ref.Name == blackTexture {
				continue
			}
			m.Slots = append(m.Slots, TextureSlot{Kind: slot.kind, Path: slot.ref.Name})
		}
		mats = append(mats, m)
	}
	return mats
}
