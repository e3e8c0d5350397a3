// Package texture resolves material texture references against the
// game's on-disk texture tree and converts GNF sources into a usable
// image format through an injected converter.
package texture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/guardian-tools/pkg/formats"
)

// ErrNoGameDir means the model path is not inside a GAME directory, so
// no texture tree can be located.
var ErrNoGameDir = errors.New("no GAME directory in model path")

// TexturesRoot maps a model's directory onto the matching directory of
// the texture tree. Models live under GAME/ASSETS/... and textures
// mirror that layout under GAME/TEXTURES/..., except that character
// variants collapse one level: ASSETS/CHARA/SKIN/BOYA maps to
// TEXTURES/CHARA/BOYA.
func TexturesRoot(modelDir string) (string, error) {
	parts := strings.Split(filepath.Clean(modelDir), string(filepath.Separator))
	gameIdx := -1
	for i, p := range parts {
		if strings.EqualFold(p, "GAME") {
			gameIdx = i
			break
		}
	}
	if gameIdx < 0 {
		return "", fmt.Errorf("%w: %s", ErrNoGameDir, modelDir)
	}

	gameDir := filepath.Join(parts[:gameIdx+1]...)
	if parts[0] == "" {
		gameDir = string(filepath.Separator) + gameDir
	}
	// Skip the ASSETS element right under GAME.
	assetParts := parts[gameIdx+2:]

	if len(assetParts) > 2 && strings.EqualFold(assetParts[1], "SKIN") {
		return filepath.Join(gameDir, "TEXTURES", assetParts[0], assetParts[2]), nil
	}
	sub := append([]string{gameDir, "TEXTURES"}, assetParts...)
	return filepath.Join(sub...), nil
}

// Converter turns a source texture into a loadable image file and
// returns the output path. Converters must be safe for concurrent use.
type Converter func(ctx context.Context, src string) (string, error)

// ExeConverter wraps an external GNF conversion tool. The tool writes a
// .dds next to the source; an already-converted file is reused without
// invoking the tool again.
func ExeConverter(exe string) Converter {
	return func(ctx context.Context, src string) (string, error) {
		dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".dds"
		if _, err := os.Stat(dst); err == nil {
			return dst, nil
		}
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("source texture: %w", err)
		}
		out, err := exec.CommandContext(ctx, exe, src).CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("converting %s: %w: %s", filepath.Base(src), err, bytes.TrimSpace(out))
		}
		if _, err := os.Stat(dst); err != nil {
			return "", fmt.Errorf("converter produced no output for %s", filepath.Base(src))
		}
		return dst, nil
	}
}

// Resolved is one successfully resolved texture slot.
type Resolved struct {
	Kind   formats.TextureKind
	Source string // the GNF file the slot resolved to
	Path   string // the converted image
}

// Resolver resolves material slots against one texture directory.
// Conversions are cached and coalesced, so materials sharing a texture
// convert it once even when resolved concurrently.
type Resolver struct {
	root    string
	convert Converter

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]string
}

// NewResolver returns a resolver over a texture directory. convert may
// be nil, in which case every slot resolution fails as a warning.
func NewResolver(root string, convert Converter) *Resolver {
	return &Resolver{
		root:    root,
		convert: convert,
		cache:   make(map[string]string),
	}
}

// Resolve resolves every slot of a material. Failures never abort the
// material: the returned error aggregates per-slot warnings, alongside
// whatever slots did resolve.
func (r *Resolver) Resolve(ctx context.Context, mat formats.Material) ([]Resolved, error) {
	var resolved []Resolved
	var warns error
	for _, slot := range mat.Slots {
		base := slot.Path
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		src := filepath.Join(r.root, base+".GNF")
		path, err := r.convertOnce(ctx, src)
		if err != nil {
			warns = multierr.Append(warns, fmt.Errorf("material %s, %s slot: %w", mat.Name, slot.Kind, err))
			continue
		}
		resolved = append(resolved, Resolved{Kind: slot.Kind, Source: src, Path: path})
	}
	return resolved, warns
}

func (r *Resolver) convertOnce(ctx context.Context, src string) (string, error) {
	r.mu.Lock()
	if path, ok := r.cache[src]; ok {
		r.mu.Unlock()
		return path, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(src, func() (any, error) {
		if r.convert == nil {
			return "", errors.New("no texture converter configured")
		}
		path, err := r.convert(ctx, src)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[src] = path
		r.mu.Unlock()
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
