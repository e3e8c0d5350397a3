package formats

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Faultbox/guardian-tools/pkg/bin"
	mathx "github.com/Faultbox/guardian-tools/pkg/math"
)

// Clip layout constants. Track data pointers are stored relative to the
// end of the magic and pad, so they carry a fixed bias.
const (
	clipMagic       = "CDAT"
	clipTrackTable  = 0x30
	clipTrackEntry  = 32
	clipPointerBias = 16
	clipDefaultRate = 30
	maxClipTracks   = 1 << 12
	maxClipFrames   = 1 << 20
)

// Interpolation selects how a channel blends between keys.
type Interpolation int

const (
	InterpLinear Interpolation = iota
	InterpStepped
)

// ChannelSource records where a channel's values came from. A channel
// the track flag leaves unsampled still stores one constant key when its
// data pointer is set; only a zero pointer falls back to the target
// bone's bind pose.
type ChannelSource int

const (
	ChannelSampled ChannelSource = iota
	ChannelConstant
	ChannelBindPose
)

// Vec3Channel is a sampled translation or scale channel. Times and
// Values are parallel, one entry per frame.
type Vec3Channel struct {
	Source ChannelSource
	Interp Interpolation
	Times  []float32
	Values []mathx.Vec3
}

// QuatChannel is a sampled rotation channel.
type QuatChannel struct {
	Source ChannelSource
	Interp Interpolation
	Times  []float32
	Values []mathx.Quat
}

// Track animates one bone. Bone is the target's index in the skeleton
// the clip was decoded against.
type Track struct {
	Bone     int
	BoneName string
	Flag     uint32

	Translation Vec3Channel
	Rotation    QuatChannel
	Scale       Vec3Channel
}

// Clip is a decoded animation.
type Clip struct {
	Name       string
	Duration   float32
	SampleRate float32
	FrameCount int
	Tracks     []Track
}

// keyIndex maps a time to the surrounding key pair and blend factor.
func keyIndex(times []float32, t float32) (int, int, float32) {
	n := len(times)
	if n == 0 {
		return 0, 0, 0
	}
	if t <= times[0] {
		return 0, 0, 0
	}
	if t >= times[n-1] {
		return n - 1, n - 1, 0
	}
	lo := 0
	for lo+1 < n && times[lo+1] <= t {
		lo++
	}
	hi := lo + 1
	span := times[hi] - times[lo]
	if span <= 0 {
		return lo, lo, 0
	}
	return lo, hi, (t - times[lo]) / span
}

// Sample returns the channel value at time t, clamped to the channel's
// range.
func (c *Vec3Channel) Sample(t float32) mathx.Vec3 {
	if len(c.Values) == 0 {
		return mathx.Vec3{}
	}
	lo, hi, f := keyIndex(c.Times, t)
	if c.Interp == InterpStepped || lo == hi {
		return c.Values[lo]
	}
	return c.Values[lo].Lerp(c.Values[hi], f)
}

// Sample returns the channel rotation at time t, clamped to the
// channel's range.
func (c *QuatChannel) Sample(t float32) mathx.Quat {
	if len(c.Values) == 0 {
		return mathx.QuatIdentity()
	}
	lo, hi, f := keyIndex(c.Times, t)
	if c.Interp == InterpStepped || lo == hi {
		return c.Values[lo]
	}
	return c.Values[lo].Slerp(c.Values[hi], f)
}

// Pose returns the track's local transform at time t.
func (tr *Track) Pose(t float32) Transform {
	return Transform{
		Translation: tr.Translation.Sample(t),
		Rotation:    tr.Rotation.Sample(t),
		Scale:       tr.Scale.Sample(t),
	}
}

// clipHeader is the fixed header of a .DATA animation file.
type clipHeader struct {
	rate       float32
	trackCount int
	frameCount int
}

func parseClipHeader(c *bin.Cursor) (clipHeader, error) {
	magic, err := c.FixedString(4)
	if err != nil || magic != clipMagic {
		return clipHeader{}, fmt.Errorf("%w: magic %q", ErrInvalidClipHeader, magic)
	}
	if err := c.Skip(12); err != nil {
		return clipHeader{}, fmt.Errorf("%w: short header", ErrInvalidClipHeader)
	}
	rate, err := c.Uint32()
	if err != nil {
		return clipHeader{}, fmt.Errorf("%w: short header", ErrInvalidClipHeader)
	}
	if rate == 0 {
		rate = clipDefaultRate
	}
	if _, err := c.Float32(); err != nil {
		return clipHeader{}, fmt.Errorf("%w: short header", ErrInvalidClipHeader)
	}
	tracks, err := c.Uint32()
	if err != nil {
		return clipHeader{}, fmt.Errorf("%w: short header", ErrInvalidClipHeader)
	}
	frames, err := c.Uint32()
	if err != nil {
		return clipHeader{}, fmt.Errorf("%w: short header", ErrInvalidClipHeader)
	}
	if tracks > maxClipTracks || frames > maxClipFrames {
		return clipHeader{}, fmt.Errorf("%w: %d tracks, %d frames", ErrInvalidClipHeader, tracks, frames)
	}
	return clipHeader{
		rate:       float32(rate),
		trackCount: int(tracks),
		frameCount: int(frames),
	}, nil
}

// trackEntry is one raw row of the track table.
type trackEntry struct {
	flag             uint32
	ptrT, ptrR, ptrS uint32
	ptrName          uint32
}

// Per-frame sampling is encoded in the track flag; a channel outside its
// flag set still stores one constant key when its pointer is nonzero.
func (e trackEntry) samplesTranslation() bool {
	return e.flag == 0 || e.flag == 4 || e.flag == 5
}

func (e trackEntry) samplesRotation() bool {
	return e.flag == 0 || e.flag == 4 || e.flag == 6
}

func (e trackEntry) samplesScale() bool {
	return e.flag == 0 || e.flag == 3
}

// ParseClip decodes a .DATA animation against a skeleton. Tracks target
// bones by name; a track naming a bone the skeleton does not have fails
// with ErrSkeletonMismatch. Channels with a zero data pointer decode as
// bind pose constants. Translation keys are scaled by scale.
func ParseClip(data []byte, name string, skel *Skeleton, scale float32) (*Clip, error) {
	c := bin.NewCursor(data)
	hdr, err := parseClipHeader(c)
	if err != nil {
		return nil, decodeErr(name, 0, err)
	}

	clip := &Clip{
		Name:       name,
		SampleRate: hdr.rate,
		FrameCount: hdr.frameCount,
		Tracks:     make([]Track, 0, hdr.trackCount),
	}
	if hdr.frameCount > 0 {
		clip.Duration = float32(hdr.frameCount-1) / hdr.rate
	}

	times := make([]float32, hdr.frameCount)
	for i := range times {
		times[i] = float32(i) / hdr.rate
	}

	for i := 0; i < hdr.trackCount; i++ {
		off := clipTrackTable + i*clipTrackEntry
		if err := c.Seek(off); err != nil {
			return nil, decodeErr(name, off, fmt.Errorf("%w: track table ends at entry %d", ErrInvalidClipHeader, i))
		}
		var e trackEntry
		if e.flag, err = c.Uint32(); err != nil {
			return nil, decodeErr(name, off, ErrInvalidClipHeader)
		}
		if e.ptrT, err = c.Uint32(); err != nil {
			return nil, decodeErr(name, off, ErrInvalidClipHeader)
		}
		if e.ptrR, err = c.Uint32(); err != nil {
			return nil, decodeErr(name, off, ErrInvalidClipHeader)
		}
		if e.ptrS, err = c.Uint32(); err != nil {
			return nil, decodeErr(name, off, ErrInvalidClipHeader)
		}
		if e.ptrName, err = c.Uint32(); err != nil {
			return nil, decodeErr(name, off, ErrInvalidClipHeader)
		}

		boneName, err := readClipString(data, e.ptrName)
		if err != nil {
			return nil, decodeErr(name, int(e.ptrName), err)
		}
		bone, ok := skel.BoneIndex(boneName)
		if !ok {
			return nil, decodeErr(name, off, fmt.Errorf("%w: track %d targets unknown bone %q",
				ErrSkeletonMismatch, i, boneName))
		}
		bind := skel.Bones[bone].Local

		tr := Track{Bone: bone, BoneName: boneName, Flag: e.flag}
		switch {
		case e.ptrT == 0:
			tr.Translation = bindVec3(bind.Translation)
		case e.samplesTranslation():
			tr.Translation, err = readVec3Channel(data, e.ptrT, times, scale)
		default:
			tr.Translation, err = readConstVec3(data, e.ptrT, scale)
		}
		if err != nil {
			return nil, decodeErr(name, int(e.ptrT), err)
		}
		switch {
		case e.ptrR == 0:
			tr.Rotation = bindQuat(bind.Rotation)
		case e.samplesRotation():
			tr.Rotation, err = readQuatChannel(data, e.ptrR, times)
		default:
			tr.Rotation, err = readConstQuat(data, e.ptrR)
		}
		if err != nil {
			return nil, decodeErr(name, int(e.ptrR), err)
		}
		switch {
		case e.ptrS == 0:
			tr.Scale = bindVec3(bind.Scale)
		case e.samplesScale():
			tr.Scale, err = readVec3Channel(data, e.ptrS, times, 1)
		default:
			tr.Scale, err = readConstVec3(data, e.ptrS, 1)
		}
		if err != nil {
			return nil, decodeErr(name, int(e.ptrS), err)
		}
		clip.Tracks = append(clip.Tracks, tr)
	}
	return clip, nil
}

// ParseClipFile reads and decodes one .DATA file. The clip takes its
// name from the file's base name.
func ParseClipFile(path string, skel *Skeleton, scale float32) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	clip, err := ParseClip(data, name, skel, scale)
	if err != nil {
		var derr *DecodeError
		if errors.As(err, &derr) {
			derr.Path = path
		}
		return nil, err
	}
	return clip, nil
}

func bindVec3(v mathx.Vec3) Vec3Channel {
	return Vec3Channel{
		Source: ChannelBindPose,
		Interp: InterpStepped,
		Times:  []float32{0},
		Values: []mathx.Vec3{v},
	}
}

func bindQuat(q mathx.Quat) QuatChannel {
	return QuatChannel{
		Source: ChannelBindPose,
		Interp: InterpStepped,
		Times:  []float32{0},
		Values: []mathx.Quat{q},
	}
}

// readConstVec3 reads the single key of a channel the track flag leaves
// unsampled. The stored value holds at every frame.
func readConstVec3(data []byte, ptr uint32, scale float32) (Vec3Channel, error) {
	ch, err := readVec3Channel(data, ptr, []float32{0}, scale)
	if err != nil {
		return Vec3Channel{}, err
	}
	ch.Source = ChannelConstant
	ch.Interp = InterpStepped
	return ch, nil
}

func readConstQuat(data []byte, ptr uint32) (QuatChannel, error) {
	ch, err := readQuatChannel(data, ptr, []float32{0})
	if err != nil {
		return QuatChannel{}, err
	}
	ch.Source = ChannelConstant
	ch.Interp = InterpStepped
	return ch, nil
}

// readClipString reads the null-terminated bone name at a biased
// pointer.
func readClipString(data []byte, ptr uint32) (string, error) {
	off := int(ptr) + clipPointerBias
	c := bin.NewCursor(data)
	if err := c.Seek(off); err != nil {
		return "", fmt.Errorf("%w: bone name pointer %#x", ErrInvalidClipHeader, ptr)
	}
	return c.CString()
}

func readVec3Channel(data []byte, ptr uint32, times []float32, scale float32) (Vec3Channel, error) {
	c := bin.NewCursor(data)
	if err := c.Seek(int(ptr) + clipPointerBias); err != nil {
		return Vec3Channel{}, fmt.Errorf("%w: key pointer %#x", ErrInvalidClipHeader, ptr)
	}
	ch := Vec3Channel{
		Source: ChannelSampled,
		Interp: InterpLinear,
		Times:  times,
		Values: make([]mathx.Vec3, len(times)),
	}
	for i := range ch.Values {
		raw, err := c.Vec3()
		if err != nil {
			return Vec3Channel{}, fmt.Errorf("%w: key %d of %d", ErrTruncatedChannel, i, len(times))
		}
		ch.Values[i] = mathx.Vec3{X: raw[0] * scale, Y: raw[1] * scale, Z: raw[2] * scale}
	}
	return ch, nil
}

// readQuatChannel reads 12-byte rotation keys. Keys store x, y and z
// only; w is reconstructed from the unit constraint.
func readQuatChannel(data []byte, ptr uint32, times []float32) (QuatChannel, error) {
	c := bin.NewCursor(data)
	if err := c.Seek(int(ptr) + clipPointerBias); err != nil {
		return QuatChannel{}, fmt.Errorf("%w: key pointer %#x", ErrInvalidClipHeader, ptr)
	}
	ch := QuatChannel{
		Source: ChannelSampled,
		Interp: InterpLinear,
		Times:  times,
		Values: make([]mathx.Quat, len(times)),
	}
	for i := range ch.Values {
		raw, err := c.Vec3()
		if err != nil {
			return QuatChannel{}, fmt.Errorf("%w: key %d of %d", ErrTruncatedChannel, i, len(times))
		}
		ch.Values[i] = mathx.QuatFromXYZ(raw[0], raw[1], raw[2])
	}
	return ch, nil
}
