package pattern

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/mailproof/automaton"
)

// MessagePack encoding of compiled patterns. Sets are the artifact handed
// from the compiling host to the verifier, so unknown fields are skipped
// and array lengths are checked against the remaining input.

// MarshalMsg implements msgp.Marshaler.
func (z *CompiledPattern) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 4)
	o = msgp.AppendString(o, "fwd")
	o = msgp.AppendBytes(o, z.Forward)
	o = msgp.AppendString(o, "bwd")
	o = msgp.AppendBytes(o, z.Backward)
	o = msgp.AppendString(o, "has_capture")
	o = msgp.AppendBool(o, z.HasCapture)
	o = msgp.AppendString(o, "capture")
	o = msgp.AppendString(o, z.Capture)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *CompiledPattern) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "fwd":
			z.Forward, bts, err = msgp.ReadBytesBytes(bts, z.Forward)
			if err != nil {
				err = msgp.WrapError(err, "Forward")
				return
			}
		case "bwd":
			z.Backward, bts, err = msgp.ReadBytesBytes(bts, z.Backward)
			if err != nil {
				err = msgp.WrapError(err, "Backward")
				return
			}
		case "has_capture":
			z.HasCapture, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "HasCapture")
				return
			}
		case "capture":
			z.Capture, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Capture")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied
// by the serialized message.
func (z *CompiledPattern) Msgsize() (s int) {
	s = 1 + 4 + msgp.BytesPrefixSize + len(z.Forward) +
		4 + msgp.BytesPrefixSize + len(z.Backward) +
		12 + msgp.BoolSize +
		8 + msgp.StringPrefixSize + len(z.Capture)
	return
}

// MarshalMsg implements msgp.Marshaler.
func (z *Set) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "order")
	o = msgp.AppendUint8(o, uint8(z.Profile.Order))
	o = msgp.AppendString(o, "align")
	o = msgp.AppendInt(o, z.Profile.Alignment)
	for _, r := range Regions {
		o = msgp.AppendString(o, r.String())
		patterns := z.Patterns(r)
		o = msgp.AppendArrayHeader(o, uint32(len(patterns)))
		for i := range patterns {
			o, err = patterns[i].MarshalMsg(o)
			if err != nil {
				err = msgp.WrapError(err, r.String(), i)
				return
			}
		}
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *Set) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "order":
			var order uint8
			order, bts, err = msgp.ReadUint8Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Profile", "Order")
				return
			}
			z.Profile.Order = automaton.ByteOrder(order)
		case "align":
			z.Profile.Alignment, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Profile", "Alignment")
				return
			}
		case "header":
			z.Header, bts, err = unmarshalPatterns(bts, z.Header)
			if err != nil {
				err = msgp.WrapError(err, "Header")
				return
			}
		case "body":
			z.Body, bts, err = unmarshalPatterns(bts, z.Body)
			if err != nil {
				err = msgp.WrapError(err, "Body")
				return
			}
		case "attachment":
			z.Attachment, bts, err = unmarshalPatterns(bts, z.Attachment)
			if err != nil {
				err = msgp.WrapError(err, "Attachment")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

func unmarshalPatterns(bts []byte, z []CompiledPattern) ([]CompiledPattern, []byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return z, bts, err
	}
	if uint64(n) > uint64(len(bts)) {
		return z, bts, msgp.ErrShortBytes
	}
	if cap(z) >= int(n) {
		z = z[:n]
	} else {
		z = make([]CompiledPattern, n)
	}
	for i := range z {
		z[i] = CompiledPattern{}
		bts, err = z[i].UnmarshalMsg(bts)
		if err != nil {
			return z, bts, msgp.WrapError(err, i)
		}
	}
	return z, bts, nil
}

// Msgsize returns an upper bound estimate of the number of bytes occupied
// by the serialized message.
func (z *Set) Msgsize() (s int) {
	s = 1 + 6 + msgp.Uint8Size + 6 + msgp.IntSize
	for _, r := range Regions {
		s += 11 + msgp.ArrayHeaderSize
		for _, p := range z.Patterns(r) {
			s += p.Msgsize()
		}
	}
	return
}
