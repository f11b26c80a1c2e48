package mailproof

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler.
func (z *Output) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "domain_hash")
	o = msgp.AppendBytes(o, z.DomainHash[:])
	o = msgp.AppendString(o, "key_hash")
	o = msgp.AppendBytes(o, z.KeyHash[:])
	o = msgp.AppendString(o, "literals")
	o = appendStrings(o, z.MatchedLiterals)
	o = msgp.AppendString(o, "external")
	o = appendStrings(o, z.ExternalInputs)
	o = msgp.AppendString(o, "verified")
	o = msgp.AppendBool(o, z.Verified)
	return
}

func appendStrings(o []byte, s []string) []byte {
	if s == nil {
		return msgp.AppendNil(o)
	}
	o = msgp.AppendArrayHeader(o, uint32(len(s)))
	for _, v := range s {
		o = msgp.AppendString(o, v)
	}
	return o
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *Output) UnmarshalMsg(bts []byte) (o []byte, err error) {
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
		case "domain_hash":
			bts, err = msgp.ReadExactBytes(bts, z.DomainHash[:])
			if err != nil {
				err = msgp.WrapError(err, "DomainHash")
				return
			}
		case "key_hash":
			bts, err = msgp.ReadExactBytes(bts, z.KeyHash[:])
			if err != nil {
				err = msgp.WrapError(err, "KeyHash")
				return
			}
		case "literals":
			z.MatchedLiterals, bts, err = readStrings(bts)
			if err != nil {
				err = msgp.WrapError(err, "MatchedLiterals")
				return
			}
		case "external":
			z.ExternalInputs, bts, err = readStrings(bts)
			if err != nil {
				err = msgp.WrapError(err, "ExternalInputs")
				return
			}
		case "verified":
			z.Verified, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Verified")
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

func readStrings(bts []byte) ([]string, []byte, error) {
	if msgp.IsNil(bts) {
		bts, err := msgp.ReadNilBytes(bts)
		return nil, bts, err
	}
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	if uint64(n) > uint64(len(bts)) {
		return nil, bts, msgp.ErrShortBytes
	}
	s := make([]string, n)
	for i := range s {
		s[i], bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return nil, bts, msgp.WrapError(err, i)
		}
	}
	return s, bts, nil
}

// Msgsize returns an upper bound estimate of the number of bytes occupied
// by the serialized message.
func (z *Output) Msgsize() (s int) {
	s = 1 + 12 + msgp.BytesPrefixSize + len(z.DomainHash) +
		9 + msgp.BytesPrefixSize + len(z.KeyHash) +
		9 + msgp.ArrayHeaderSize +
		9 + msgp.ArrayHeaderSize +
		9 + msgp.BoolSize
	for _, v := range z.MatchedLiterals {
		s += msgp.StringPrefixSize + len(v)
	}
	for _, v := range z.ExternalInputs {
		s += msgp.StringPrefixSize + len(v)
	}
	return
}
