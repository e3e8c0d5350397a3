// bodtool is a CLI utility for inspecting and importing The Last
// Guardian .BOD model containers and .DATA animation files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/Faultbox/guardian-tools/internal/config"
	"github.com/Faultbox/guardian-tools/internal/importer"
	"github.com/Faultbox/guardian-tools/internal/logger"
	"github.com/Faultbox/guardian-tools/pkg/formats"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "skeleton", "skel":
		cmdSkeleton(args)
	case "mesh", "meshes":
		cmdMesh(args)
	case "materials", "mat":
		cmdMaterials(args)
	case "anim":
		cmdAnim(args)
	case "import":
		cmdImport(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bodtool - The Last Guardian model container utility

Usage:
  bodtool <command> [options]

Commands:
  info <file.bod>                Show container information
  skeleton <file.bod>            Print the bone hierarchy
  mesh <file.bod>                Decode and summarize meshes
  materials <file.bod>           List materials and texture slots
  anim <file.bod> <clip.data>    Decode an animation against a model
  import <file.bod>              Full import including textures
  config init [path]             Write a default config file

Common options (mesh, materials, anim, import):
  -config <path>      Config file (default: standard locations)
  -scale <f>          Global import scale
  -converter <path>   GNF to DDS conversion tool
  -textures <dir>     Explicit texture directory
  -no-deps            Skip dependency containers
  -debug              Enable debug logging

Examples:
  bodtool info GAME/ASSETS/CHARA/SKIN/BOYA/BOY.BOD
  bodtool skeleton BOY.BOD
  bodtool anim BOY.BOD WALK.DATA
  bodtool import -converter /opt/tools/gnf2dds BOY.BOD`)
}

// importFlags registers the options shared by the decode commands and
// returns a builder to call after parsing.
func importFlags(fs *flag.FlagSet) func() importer.Options {
	cfgPath := fs.String("config", "", "Config file path")
	scale := fs.Float64("scale", 0, "Global import scale")
	converter := fs.String("converter", "", "GNF to DDS conversion tool")
	textures := fs.String("textures", "", "Explicit texture directory")
	noDeps := fs.Bool("no-deps", false, "Skip dependency containers")
	debug := fs.Bool("debug", false, "Enable debug logging")

	return func() importer.Options {
		cfg, err := config.LoadFrom(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *scale > 0 {
			cfg.Importer.Scale = float32(*scale)
		}
		if *converter != "" {
			cfg.Textures.ConverterPath = *converter
		}
		if *textures != "" {
			cfg.Textures.Dir = *textures
		}
		if *noDeps {
			cfg.Importer.LoadDependencies = false
		}
		if *debug {
			cfg.Logging.Level = "debug"
		}

		if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return importer.FromConfig(cfg)
	}
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bodtool info <file.bod>")
		os.Exit(1)
	}

	bod, err := formats.ParseBODFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Container: %s\n", args[0])
	fmt.Printf("Strings:   %d\n", len(bod.Strings))
	if bod.Truncated {
		fmt.Println("Warning:   object stream truncated")
	}
	fmt.Println()
	fmt.Println("Objects by type:")

	counts := map[string]int{
		"SceneRoot":          len(bod.SceneRoots),
		"Skeleton":           len(bod.Skeletons),
		"Bone":               len(bod.Bones),
		"Mesh":               len(bod.Meshes),
		"RenderExt":          len(bod.RenderExts),
		"RenderBatch":        len(bod.Batches),
		"SkinCluster":        len(bod.SkinClusters),
		"GeometryBuffer":     len(bod.GeometryBuffers),
		"MaterialDefinition": len(bod.Materials),
	}
	var types []string
	for typ, n := range counts {
		if n > 0 {
			types = append(types, typ)
		}
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Printf("  %-20s %d\n", typ, counts[typ])
	}
}

func cmdSkeleton(args []string) {
	fs := flag.NewFlagSet("skeleton", flag.ExitOnError)
	scale := fs.Float64("scale", 1, "Global import scale")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bodtool skeleton <file.bod>")
		os.Exit(1)
	}

	bod, err := formats.ParseBODFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(bod.Skeletons) == 0 {
		fmt.Fprintln(os.Stderr, "No skeleton in container")
		os.Exit(1)
	}

	skel, err := formats.DecodeSkeleton(bod, bod.Skeletons[0], float32(*scale))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Skeleton: %s (%d bones)\n", skel.Name, len(skel.Bones))
	for _, root := range skel.Roots() {
		printBoneTree(skel, root, 0)
	}
}

func printBoneTree(skel *formats.Skeleton, bone, depth int) {
	b := skel.Bones[bone]
	pos := b.Local.Translation
	fmt.Printf("%s%s  (%.3f %.3f %.3f)\n", strings.Repeat("  ", depth+1), b.Name, pos.X, pos.Y, pos.Z)
	for i := range skel.Bones {
		if skel.Bones[i].Parent == bone {
			printBoneTree(skel, i, depth+1)
		}
	}
}

func cmdMesh(args []string) {
	fs := flag.NewFlagSet("mesh", flag.ExitOnError)
	build := importFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bodtool mesh <file.bod>")
		os.Exit(1)
	}

	opts := build()
	opts.Converter = nil // geometry only
	m := mustImport(fs.Arg(0), opts)

	for _, mesh := range m.Meshes {
		skinned := "rigid"
		if mesh.Skinned() {
			skinned = fmt.Sprintf("skinned, %d bones", len(mesh.BoneNames))
		}
		fmt.Printf("%s: %d vertices, %d triangles, %d submeshes (%s)\n",
			mesh.Name, len(mesh.Vertices), len(mesh.Indices)/3, len(mesh.Submeshes), skinned)
		for _, sm := range mesh.Submeshes {
			mat := "?"
			if sm.Material < len(m.Materials) {
				mat = m.Materials[sm.Material].Name
			}
			fmt.Printf("  %s: indices [%d:%d] -> %s\n", sm.Name, sm.IndexStart, sm.IndexStart+sm.IndexCount, mat)
		}
	}
	printWarnings(m.Warnings)
}

func cmdMaterials(args []string) {
	fs := flag.NewFlagSet("materials", flag.ExitOnError)
	build := importFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bodtool materials <file.bod>")
		os.Exit(1)
	}

	opts := build()
	opts.Converter = nil
	m := mustImport(fs.Arg(0), opts)

	for _, mat := range m.Materials {
		fmt.Println(mat.Name)
		for _, slot := range mat.Slots {
			fmt.Printf("  %-8s %s\n", slot.Kind, slot.Path)
		}
	}
	printWarnings(m.Warnings)
}

func cmdAnim(args []string) {
	fs := flag.NewFlagSet("anim", flag.ExitOnError)
	build := importFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: bodtool anim <file.bod> <clip.data>")
		os.Exit(1)
	}

	opts := build()
	opts.Converter = nil
	m := mustImport(fs.Arg(0), opts)
	if m.Skeleton == nil {
		fmt.Fprintln(os.Stderr, "Model has no skeleton")
		os.Exit(1)
	}

	clip, err := importer.ImportClip(fs.Arg(1), m.Skeleton, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Clip: %s\n", clip.Name)
	fmt.Printf("Duration: %.3fs at %g fps (%d frames)\n", clip.Duration, clip.SampleRate, clip.FrameCount)
	fmt.Printf("Tracks: %d\n", len(clip.Tracks))
	for _, tr := range clip.Tracks {
		var channels []string
		if tr.Translation.Source == formats.ChannelSampled {
			channels = append(channels, "T")
		}
		if tr.Rotation.Source == formats.ChannelSampled {
			channels = append(channels, "R")
		}
		if tr.Scale.Source == formats.ChannelSampled {
			channels = append(channels, "S")
		}
		if len(channels) == 0 {
			channels = append(channels, "bind")
		}
		fmt.Printf("  %-24s [%s]\n", tr.BoneName, strings.Join(channels, ""))
	}
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	build := importFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bodtool import <file.bod>")
		os.Exit(1)
	}

	m := mustImport(fs.Arg(0), build())

	bones := 0
	if m.Skeleton != nil {
		bones = len(m.Skeleton.Bones)
	}
	textures := 0
	for _, resolved := range m.Textures {
		textures += len(resolved)
	}
	fmt.Printf("Imported %s\n", filepath.Base(m.Path))
	fmt.Printf("  bones:     %d\n", bones)
	fmt.Printf("  meshes:    %d\n", len(m.Meshes))
	fmt.Printf("  materials: %d\n", len(m.Materials))
	fmt.Printf("  textures:  %d\n", textures)
	printWarnings(m.Warnings)
}

func cmdConfig(args []string) {
	if len(args) < 1 || args[0] != "init" {
		fmt.Fprintln(os.Stderr, "Usage: bodtool config init [path]")
		os.Exit(1)
	}

	cfg := config.Default()
	if len(args) > 1 {
		if err := cfg.SaveTo(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", args[1])
		return
	}
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
}

func mustImport(path string, opts importer.Options) *importer.Model {
	m, err := importer.ImportModel(context.Background(), path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return m
}

func printWarnings(warns error) {
	for _, w := range multierr.Errors(warns) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
}
