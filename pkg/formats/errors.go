package formats

import (
	"errors"
	"fmt"
)

// Decoder errors. Cursor-level failures from pkg/bin wrap through these.
var (
	ErrInvalidBODHeader          = errors.New("invalid BOD header")
	ErrTruncatedBOD              = errors.New("truncated BOD data")
	ErrBadStringIndex            = errors.New("string table index out of range")
	ErrInvalidBoneHierarchy      = errors.New("invalid bone hierarchy")
	ErrDegenerateSkinWeights     = errors.New("skin weights sum to zero")
	ErrSubmeshMaterialOutOfRange = errors.New("submesh references unknown material")
	ErrInvalidCDATMagic          = errors.New("invalid CDAT magic")
	ErrUnsupportedStride         = errors.New("unsupported CDAT stride")
	ErrSkeletonMismatch          = errors.New("animation track targets unknown bone")
	ErrInvalidClipHeader         = errors.New("invalid animation clip header")
	ErrTruncatedChannel          = errors.New("animation channel data ends early")
)

// DecodeError identifies where in a container a structural failure
// happened. Structural errors abort the whole file decode; the partial
// result is discarded.
type DecodeError struct {
	Path   string // source file, may be empty when decoding from memory
	Object string // object or chunk being decoded
	Offset int    // byte offset of the failing read
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s at offset %#x: %v", e.Path, e.Object, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s at offset %#x: %v", e.Object, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(object string, offset int, err error) error {
	return &DecodeError{Object: object, Offset: offset, Err: err}
}
