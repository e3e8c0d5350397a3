package formats

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	mathx "github.com/Faultbox/guardian-tools/pkg/math"
)

// clipTrack describes one synthetic track. A nil key slice leaves that
// channel's pointer zero.
type clipTrack struct {
	flag  uint32
	bone  string
	trans [][3]float32
	rot   [][3]float32
	scale [][3]float32
}

// buildClip assembles a .DATA animation buffer: header, track table at
// 0x30, then name strings and key data addressed by biased pointers.
func buildClip(rate uint32, frames int, tracks []clipTrack) []byte {
	buf := []byte(clipMagic)
	buf = append(buf, make([]byte, 12)...)
	buf = le32(buf, int32(rate))
	buf = lef32(buf, 0) // reserved
	buf = le32(buf, int32(len(tracks)))
	buf = le32(buf, int32(frames))
	buf = append(buf, make([]byte, clipTrackTable-len(buf))...)

	// Key and name data follows the track table.
	data := make([]byte, 0)
	dataStart := clipTrackTable + len(tracks)*clipTrackEntry
	alloc := func(b []byte) int32 {
		if b == nil {
			return 0
		}
		ptr := dataStart + len(data) - clipPointerBias
		data = append(data, b...)
		return int32(ptr)
	}
	keys := func(ks [][3]float32) []byte {
		if ks == nil {
			return nil
		}
		var b []byte
		for _, k := range ks {
			b = lef32(b, k[0])
			b = lef32(b, k[1])
			b = lef32(b, k[2])
		}
		return b
	}

	for _, tr := range tracks {
		buf = le32(buf, int32(tr.flag))
		buf = le32(buf, alloc(keys(tr.trans)))
		buf = le32(buf, alloc(keys(tr.rot)))
		buf = le32(buf, alloc(keys(tr.scale)))
		buf = le32(buf, alloc(append([]byte(tr.bone), 0)))
		buf = append(buf, make([]byte, 12)...)
	}
	return append(buf, data...)
}

func characterSkeleton(t *testing.T) *Skeleton {
	t.Helper()
	bod, err := ParseBOD(buildCharacter(t).build())
	if err != nil {
		t.Fatal(err)
	}
	skel, err := DecodeSkeleton(bod, bod.Skeletons[0], 1)
	if err != nil {
		t.Fatal(err)
	}
	return skel
}

func TestParseClip(t *testing.T) {
	skel := characterSkeleton(t)
	s := float32(math.Sqrt(0.5))
	data := buildClip(30, 2, []clipTrack{{
		flag:  0,
		bone:  "spine",
		trans: [][3]float32{{1, 0, 0}, {3, 0, 0}},
		rot:   [][3]float32{{0, 0, 0}, {0, 0, s}},
		// scale pointer zero: bind pose constant
	}})

	clip, err := ParseClip(data, "WALK", skel, 1)
	if err != nil {
		t.Fatalf("ParseClip: %v", err)
	}
	if clip.SampleRate != 30 || clip.FrameCount != 2 {
		t.Errorf("clip header = %+v", clip)
	}
	if got, want := clip.Duration, float32(1)/30; math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("duration = %v, want %v", got, want)
	}
	if len(clip.Tracks) != 1 {
		t.Fatalf("tracks = %d", len(clip.Tracks))
	}

	tr := clip.Tracks[0]
	spine, _ := skel.BoneIndex("spine")
	if tr.Bone != spine || tr.BoneName != "spine" {
		t.Errorf("track target = %d %q", tr.Bone, tr.BoneName)
	}
	if tr.Translation.Source != ChannelSampled || tr.Rotation.Source != ChannelSampled {
		t.Error("sampled channels not marked sampled")
	}
	if tr.Scale.Source != ChannelBindPose {
		t.Error("omitted scale channel not marked bind pose")
	}

	// Linear interpolation at the midpoint of the two frames.
	mid := clip.Duration / 2
	if got := tr.Translation.Sample(mid); !vecNear(got, mathx.Vec3{X: 2}) {
		t.Errorf("translation at midpoint = %v, want (2 0 0)", got)
	}

	// The second rotation key reconstructs w from the unit constraint.
	q := tr.Rotation.Sample(clip.Duration)
	if math.Abs(float64(q.Z-s)) > 1e-5 || math.Abs(float64(q.W-s)) > 1e-5 {
		t.Errorf("rotation at end = %+v, want quarter turn about Z", q)
	}

	// Sampling clamps to the key range.
	if got := tr.Translation.Sample(99); !vecNear(got, mathx.Vec3{X: 3}) {
		t.Errorf("translation past end = %v, want (3 0 0)", got)
	}
	if got := tr.Translation.Sample(-1); !vecNear(got, mathx.Vec3{X: 1}) {
		t.Errorf("translation before start = %v, want (1 0 0)", got)
	}
}

func TestParseClipBindPoseFallback(t *testing.T) {
	skel := characterSkeleton(t)
	// Flag 3 carries only scale; translation and rotation fall back to
	// the bone's bind pose.
	data := buildClip(30, 1, []clipTrack{{
		flag:  3,
		bone:  "spine",
		scale: [][3]float32{{2, 2, 2}},
	}})

	clip, err := ParseClip(data, "SCALE_ONLY", skel, 1)
	if err != nil {
		t.Fatalf("ParseClip: %v", err)
	}
	tr := clip.Tracks[0]
	spine, _ := skel.BoneIndex("spine")
	bind := skel.Bones[spine].Local

	if tr.Translation.Source != ChannelBindPose {
		t.Error("translation should fall back to bind pose")
	}
	if got := tr.Translation.Sample(0); !vecNear(got, bind.Translation) {
		t.Errorf("translation = %v, want bind %v", got, bind.Translation)
	}
	q := tr.Rotation.Sample(0)
	if q != bind.Rotation {
		t.Errorf("rotation = %+v, want bind %+v", q, bind.Rotation)
	}
	if got := tr.Scale.Sample(0); !vecNear(got, mathx.Vec3{X: 2, Y: 2, Z: 2}) {
		t.Errorf("scale = %v, want (2 2 2)", got)
	}

	// Pose composes all three channels.
	pose := tr.Pose(0)
	if !vecNear(pose.Translation, bind.Translation) || !vecNear(pose.Scale, mathx.Vec3{X: 2, Y: 2, Z: 2}) {
		t.Errorf("pose = %+v", pose)
	}
}

func TestParseClipConstantChannels(t *testing.T) {
	skel := characterSkeleton(t)
	// Flag 6 samples rotation per frame; translation and scale each
	// store a single constant key that holds for the whole clip.
	data := buildClip(30, 2, []clipTrack{{
		flag:  6,
		bone:  "spine",
		trans: [][3]float32{{9, 9, 9}},
		rot:   [][3]float32{{0, 0, 0}, {0, 0, 0}},
		scale: [][3]float32{{5, 5, 5}},
	}})

	clip, err := ParseClip(data, "HOLD", skel, 1)
	if err != nil {
		t.Fatalf("ParseClip: %v", err)
	}
	tr := clip.Tracks[0]
	if tr.Translation.Source != ChannelConstant || tr.Scale.Source != ChannelConstant {
		t.Errorf("channel sources = %v %v, want constant", tr.Translation.Source, tr.Scale.Source)
	}
	if tr.Rotation.Source != ChannelSampled {
		t.Errorf("rotation source = %v, want sampled", tr.Rotation.Source)
	}
	for _, at := range []float32{0, clip.Duration / 2, clip.Duration} {
		if got := tr.Translation.Sample(at); !vecNear(got, mathx.Vec3{X: 9, Y: 9, Z: 9}) {
			t.Errorf("translation at %v = %v, want stored key (9 9 9)", at, got)
		}
		if got := tr.Scale.Sample(at); !vecNear(got, mathx.Vec3{X: 5, Y: 5, Z: 5}) {
			t.Errorf("scale at %v = %v, want stored key (5 5 5)", at, got)
		}
	}

	// A constant translation key honors the import scale.
	scaled, err := ParseClip(data, "HOLD", skel, 0.5)
	if err != nil {
		t.Fatalf("ParseClip: %v", err)
	}
	if got := scaled.Tracks[0].Translation.Sample(0); !vecNear(got, mathx.Vec3{X: 4.5, Y: 4.5, Z: 4.5}) {
		t.Errorf("scaled constant translation = %v, want (4.5 4.5 4.5)", got)
	}
}

func TestParseClipScale(t *testing.T) {
	skel := characterSkeleton(t)
	data := buildClip(30, 1, []clipTrack{{
		flag:  5,
		bone:  "hip",
		trans: [][3]float32{{1, 2, 3}},
	}})

	clip, err := ParseClip(data, "STEP", skel, 0.5)
	if err != nil {
		t.Fatalf("ParseClip: %v", err)
	}
	got := clip.Tracks[0].Translation.Sample(0)
	if !vecNear(got, mathx.Vec3{X: 0.5, Y: 1, Z: 1.5}) {
		t.Errorf("scaled translation = %v, want (0.5 1 1.5)", got)
	}
}

func TestParseClipDefaultRate(t *testing.T) {
	skel := characterSkeleton(t)
	data := buildClip(0, 3, nil)
	clip, err := ParseClip(data, "IDLE", skel, 1)
	if err != nil {
		t.Fatalf("ParseClip: %v", err)
	}
	if clip.SampleRate != 30 {
		t.Errorf("rate = %v, want default 30", clip.SampleRate)
	}
}

func TestParseClipErrors(t *testing.T) {
	skel := characterSkeleton(t)

	t.Run("bad magic", func(t *testing.T) {
		data := buildClip(30, 1, nil)
		copy(data, "NOPE")
		_, err := ParseClip(data, "X", skel, 1)
		if !errors.Is(err, ErrInvalidClipHeader) {
			t.Errorf("err = %v, want ErrInvalidClipHeader", err)
		}
	})
	t.Run("short header", func(t *testing.T) {
		_, err := ParseClip([]byte(clipMagic), "X", skel, 1)
		if !errors.Is(err, ErrInvalidClipHeader) {
			t.Errorf("err = %v, want ErrInvalidClipHeader", err)
		}
	})
	t.Run("unknown bone", func(t *testing.T) {
		data := buildClip(30, 1, []clipTrack{{
			flag:  5,
			bone:  "tail",
			trans: [][3]float32{{0, 0, 0}},
		}})
		_, err := ParseClip(data, "X", skel, 1)
		if !errors.Is(err, ErrSkeletonMismatch) {
			t.Errorf("err = %v, want ErrSkeletonMismatch", err)
		}
	})
	t.Run("truncated keys", func(t *testing.T) {
		data := buildClip(30, 4, []clipTrack{{
			flag:  5,
			bone:  "hip",
			trans: [][3]float32{{0, 0, 0}}, // 1 key, header claims 4 frames
		}})
		_, err := ParseClip(data, "X", skel, 1)
		if !errors.Is(err, ErrTruncatedChannel) {
			t.Errorf("err = %v, want ErrTruncatedChannel", err)
		}
	})
}

func TestParseClipFile(t *testing.T) {
	skel := characterSkeleton(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "WALK_LOOP.DATA")
	data := buildClip(30, 1, []clipTrack{{
		flag:  5,
		bone:  "hip",
		trans: [][3]float32{{0, 1, 0}},
	}})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	clip, err := ParseClipFile(path, skel, 1)
	if err != nil {
		t.Fatalf("ParseClipFile: %v", err)
	}
	if clip.Name != "WALK_LOOP" {
		t.Errorf("clip name = %q, want WALK_LOOP", clip.Name)
	}

	bad := filepath.Join(dir, "BAD.DATA")
	if err := os.WriteFile(bad, []byte("junk data here"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = ParseClipFile(bad, skel, 1)
	var de *DecodeError
	if !errors.As(err, &de) || de.Path != bad {
		t.Errorf("err = %v, want DecodeError carrying %q", err, bad)
	}
}

func TestSteppedChannelSampling(t *testing.T) {
	ch := Vec3Channel{
		Interp: InterpStepped,
		Times:  []float32{0, 1},
		Values: []mathx.Vec3{{X: 1}, {X: 5}},
	}
	if got := ch.Sample(0.9); !vecNear(got, mathx.Vec3{X: 1}) {
		t.Errorf("stepped sample = %v, want held first key", got)
	}
	if got := ch.Sample(1); !vecNear(got, mathx.Vec3{X: 5}) {
		t.Errorf("stepped sample at key = %v, want (5 0 0)", got)
	}
}
