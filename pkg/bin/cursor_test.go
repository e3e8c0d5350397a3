package bin

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestCursor_IntegerReads(t *testing.T) {
	data := make([]byte, 15)
	data[0] = 0x7F
	binary.LittleEndian.PutUint16(data[1:], 0xBEEF)
	binary.LittleEndian.PutUint32(data[3:], 0xDEADBEEF)
	binary.LittleEndian.PutUint64(data[7:], 0x0102030405060708)

	c := NewCursor(data)

	if v, err := c.Uint8(); err != nil || v != 0x7F {
		t.Errorf("Uint8() = %d, %v; want 0x7F", v, err)
	}
	if v, err := c.Uint16(); err != nil || v != 0xBEEF {
		t.Errorf("Uint16() = %#x, %v; want 0xBEEF", v, err)
	}
	if v, err := c.Uint32(); err != nil || v != 0xDEADBEEF {
		t.Errorf("Uint32() = %#x, %v; want 0xDEADBEEF", v, err)
	}
	if v, err := c.Uint64(); err != nil || v != 0x0102030405060708 {
		t.Errorf("Uint64() = %#x, %v; want 0x0102030405060708", v, err)
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", c.Remaining())
	}
}

func TestCursor_SignedReads(t *testing.T) {
	data := make([]byte, 7)
	data[0] = 0xFF // -1
	binary.LittleEndian.PutUint16(data[1:], 0x8000)
	binary.LittleEndian.PutUint32(data[3:], 0xFFFFFFFF)

	c := NewCursor(data)

	if v, _ := c.Int8(); v != -1 {
		t.Errorf("Int8() = %d, want -1", v)
	}
	if v, _ := c.Int16(); v != -32768 {
		t.Errorf("Int16() = %d, want -32768", v)
	}
	if v, _ := c.Int32(); v != -1 {
		t.Errorf("Int32() = %d, want -1", v)
	}
}

func TestCursor_Float32(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-0.25))

	c := NewCursor(data)
	if v, err := c.Float32(); err != nil || v != 1.5 {
		t.Errorf("Float32() = %f, %v; want 1.5", v, err)
	}
	if v, err := c.Float32(); err != nil || v != -0.25 {
		t.Errorf("Float32() = %f, %v; want -0.25", v, err)
	}
}

func TestCursor_OutOfBounds(t *testing.T) {
	c := NewCursor([]byte{1, 2})

	if _, err := c.Uint32(); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Uint32 on short buffer: err = %v, want ErrOutOfBounds", err)
	}
	// Position must not advance on a failed read.
	if c.Pos() != 0 {
		t.Errorf("Pos() = %d after failed read, want 0", c.Pos())
	}
	if v, err := c.Uint16(); err != nil || v != 0x0201 {
		t.Errorf("Uint16() = %#x, %v; want 0x0201", v, err)
	}
}

func TestCursor_Seek(t *testing.T) {
	tests := []struct {
		name    string
		pos     int
		wantErr bool
	}{
		{"start", 0, false},
		{"middle", 4, false},
		{"end", 8, false},
		{"negative", -1, true},
		{"past end", 9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(make([]byte, 8))
			err := c.Seek(tt.pos)
			if (err != nil) != tt.wantErr {
				t.Errorf("Seek(%d) err = %v, wantErr = %v", tt.pos, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidSeek) {
				t.Errorf("Seek(%d) err = %v, want ErrInvalidSeek", tt.pos, err)
			}
		})
	}
}

func TestCursor_Strings(t *testing.T) {
	t.Run("fixed with null", func(t *testing.T) {
		c := NewCursor([]byte{'b', 'o', 'n', 'e', 0, 'x', 'y'})
		s, err := c.FixedString(7)
		if err != nil || s != "bone" {
			t.Errorf("FixedString(7) = %q, %v; want \"bone\"", s, err)
		}
	})

	t.Run("c string", func(t *testing.T) {
		c := NewCursor([]byte{'r', 'o', 'o', 't', 0, 'Z'})
		s, err := c.CString()
		if err != nil || s != "root" {
			t.Errorf("CString() = %q, %v; want \"root\"", s, err)
		}
		if c.Pos() != 5 {
			t.Errorf("Pos() = %d after CString, want 5", c.Pos())
		}
	})

	t.Run("unterminated c string", func(t *testing.T) {
		c := NewCursor([]byte{'a', 'b'})
		if _, err := c.CString(); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("CString() err = %v, want ErrOutOfBounds", err)
		}
	})

	t.Run("prefixed", func(t *testing.T) {
		data := []byte{4, 0, 0, 0, 'm', 'e', 's', 'h'}
		c := NewCursor(data)
		s, err := c.PrefixedString()
		if err != nil || s != "mesh" {
			t.Errorf("PrefixedString() = %q, %v; want \"mesh\"", s, err)
		}
	})

	t.Run("prefixed negative length", func(t *testing.T) {
		data := []byte{0xFF, 0xFF, 0xFF, 0xFF}
		c := NewCursor(data)
		if _, err := c.PrefixedString(); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("PrefixedString() err = %v, want ErrOutOfBounds", err)
		}
	})
}

func TestCursor_Sub(t *testing.T) {
	c := NewCursor([]byte{0, 1, 2, 3, 4, 5, 6, 7})

	sub, err := c.Sub(2, 4)
	if err != nil {
		t.Fatalf("Sub(2, 4) failed: %v", err)
	}
	if sub.Len() != 4 {
		t.Errorf("sub.Len() = %d, want 4", sub.Len())
	}
	if v, _ := sub.Uint8(); v != 2 {
		t.Errorf("sub first byte = %d, want 2", v)
	}
	// Sub-view cannot read outside its window.
	_ = sub.Seek(4)
	if _, err := sub.Uint8(); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("read past sub-view end: err = %v, want ErrOutOfBounds", err)
	}

	if _, err := c.Sub(6, 4); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Sub(6, 4) err = %v, want ErrOutOfBounds", err)
	}
}

func TestCursor_Vec3(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(1))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(2))
	binary.LittleEndian.PutUint32(data[8:], math.Float32bits(3))

	c := NewCursor(data)
	v, err := c.Vec3()
	if err != nil {
		t.Fatalf("Vec3() failed: %v", err)
	}
	if v != [3]float32{1, 2, 3} {
		t.Errorf("Vec3() = %v, want [1 2 3]", v)
	}
}
