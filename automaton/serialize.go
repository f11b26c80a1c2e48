package automaton

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// ByteOrder is the byte order of multi-byte fields in a serialized DFA.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little-endian"
	case BigEndian:
		return "big-endian"
	}
	return fmt.Sprintf("ByteOrder(%d)", uint8(o))
}

func (o ByteOrder) binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Profile describes the target a serialized DFA is produced for. Buffers
// are only valid under the profile they were written with.
type Profile struct {
	Order ByteOrder

	// Alignment is the boundary, in bytes, a buffer must start on before
	// it is loaded. Zero or one means no requirement. It must be a power of
	// two no larger than 64.
	Alignment int
}

// DefaultProfile is little-endian with 4-byte aligned transition entries,
// the layout 32-bit guest targets read without unaligned accesses.
var DefaultProfile = Profile{Order: LittleEndian, Alignment: 4}

// NativeProfile returns the profile of the running machine.
func NativeProfile() Profile {
	return Profile{Order: nativeOrder, Alignment: int(unsafe.Alignof(uint32(0)))}
}

var nativeOrder = func() ByteOrder {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return LittleEndian
	}
	return BigEndian
}()

// Validate reports whether p is usable.
func (p Profile) Validate() error {
	if p.Order != LittleEndian && p.Order != BigEndian {
		return fmt.Errorf("%w: unknown byte order %d", ErrProfile, p.Order)
	}
	if p.Alignment < 0 || p.Alignment > 64 || p.Alignment&(p.Alignment-1) != 0 {
		return fmt.Errorf("%w: alignment %d", ErrProfile, p.Alignment)
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("%s/align%d", p.Order, p.Alignment)
}

// Serialized layout. All integers are uint32 in the profile's byte order.
//
//	magic       [4]byte "MPDA"
//	order mark  uint32 0x01020304
//	version     uint32
//	flags       uint32 bit 0 reverse, bit 1 match kind all
//	states      uint32
//	classes     uint32
//	start text  uint32
//	start mid   uint32
//	class map   [256]byte
//	transitions [states*classes]uint32
//	state flags [states]byte
const (
	formatVersion = 1
	orderMark     = 0x01020304
	headerSize    = 32
	tableOffset   = headerSize + 256

	formatReverse = 1 << 0
	formatAll     = 1 << 1
)

var magic = [4]byte{'M', 'P', 'D', 'A'}

// Serialize encodes d for the target described by p. The returned buffer
// starts on a p.Alignment boundary.
func (d *DFA) Serialize(p Profile) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	order := p.Order.binary()
	states := d.NumStates()
	size := tableOffset + 4*len(d.trans) + states

	buf := alignedBuffer(size, p.Alignment)
	copy(buf, magic[:])
	order.PutUint32(buf[4:], orderMark)
	order.PutUint32(buf[8:], formatVersion)
	var flags uint32
	if d.reverse {
		flags |= formatReverse
	}
	if d.kind == All {
		flags |= formatAll
	}
	order.PutUint32(buf[12:], flags)
	order.PutUint32(buf[16:], uint32(states))
	order.PutUint32(buf[20:], uint32(d.stride))
	order.PutUint32(buf[24:], d.startText)
	order.PutUint32(buf[28:], d.startMid)
	copy(buf[headerSize:], d.classes[:])
	off := tableOffset
	for _, t := range d.trans {
		order.PutUint32(buf[off:], t)
		off += 4
	}
	copy(buf[off:], d.flags)
	return buf, nil
}

// Deserialize loads a DFA written by Serialize under the same profile. buf
// must start on a p.Alignment boundary; use AlignedCopy for buffers of
// unknown origin. When p matches the machine byte order the transition
// table is read in place, so buf must not be modified afterwards.
//
// Every field is validated, so a corrupt buffer yields an error rather than
// an automaton that reads out of bounds.
func Deserialize(buf []byte, p Profile) (*DFA, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !IsAligned(buf, p.Alignment) {
		return nil, fmt.Errorf("%w: buffer not aligned to %d bytes", ErrUnaligned, p.Alignment)
	}
	if len(buf) < tableOffset {
		return nil, fmt.Errorf("%w: buffer too short (%d bytes)", ErrFormat, len(buf))
	}
	if [4]byte(buf[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	order := p.Order.binary()
	if order.Uint32(buf[4:]) != orderMark {
		return nil, fmt.Errorf("%w: written for a different byte order than %s", ErrProfile, p.Order)
	}
	if v := order.Uint32(buf[8:]); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, v)
	}
	flags := order.Uint32(buf[12:])
	if flags&^(formatReverse|formatAll) != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrFormat, flags)
	}
	states := uint64(order.Uint32(buf[16:]))
	classes := uint64(order.Uint32(buf[20:]))
	if states == 0 || classes == 0 || classes > 256 {
		return nil, fmt.Errorf("%w: %d states, %d classes", ErrFormat, states, classes)
	}
	if want := uint64(tableOffset) + 4*states*classes + states; uint64(len(buf)) != want {
		return nil, fmt.Errorf("%w: buffer is %d bytes, want %d", ErrFormat, len(buf), want)
	}

	d := &DFA{
		reverse:   flags&formatReverse != 0,
		stride:    int(classes),
		startText: order.Uint32(buf[24:]),
		startMid:  order.Uint32(buf[28:]),
	}
	if flags&formatAll != 0 {
		d.kind = All
	}
	if uint64(d.startText) >= states || uint64(d.startMid) >= states {
		return nil, fmt.Errorf("%w: start state out of range", ErrFormat)
	}
	copy(d.classes[:], buf[headerSize:tableOffset])
	for _, c := range d.classes {
		if uint64(c) >= classes {
			return nil, fmt.Errorf("%w: byte class %d out of range", ErrFormat, c)
		}
	}

	n := int(states * classes)
	table := buf[tableOffset : tableOffset+4*n]
	if p.Order == nativeOrder && IsAligned(table, 4) {
		d.trans = unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(table))), n)
	} else {
		d.trans = make([]uint32, n)
		for i := range d.trans {
			d.trans[i] = order.Uint32(table[4*i:])
		}
	}
	for i, t := range d.trans {
		if uint64(t) >= states {
			return nil, fmt.Errorf("%w: transition to state %d out of range", ErrFormat, t)
		}
		if i < d.stride && t != deadState {
			return nil, fmt.Errorf("%w: dead state has a live transition", ErrFormat)
		}
	}

	d.flags = buf[tableOffset+4*n:]
	for _, f := range d.flags {
		if f&^(flagMatch|flagEOIMatch) != 0 {
			return nil, fmt.Errorf("%w: unknown state flags %#x", ErrFormat, f)
		}
	}
	if d.flags[deadState] != 0 {
		return nil, fmt.Errorf("%w: dead state is matching", ErrFormat)
	}
	return d, nil
}

// IsAligned reports whether buf starts on an align-byte boundary. Empty
// buffers are always aligned.
func IsAligned(buf []byte, align int) bool {
	if align <= 1 || len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))%uintptr(align) == 0
}

// AlignedCopy returns a copy of buf that starts on an align-byte boundary.
func AlignedCopy(buf []byte, align int) []byte {
	out := alignedBuffer(len(buf), align)
	copy(out, buf)
	return out
}

func alignedBuffer(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}
	raw := make([]byte, size+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(unsafe.SliceData(raw))) % uintptr(align)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+size : off+size]
}
