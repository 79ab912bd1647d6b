package bcloader

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/joelreymont/pez/bcerr"
	"github.com/joelreymont/pez/bcopcode"
)

// marshal type tags, mirroring CPython's Python/marshal.c. Only the
// subset a compiled module's top-level code object can reference is
// implemented; StopIteration, Ellipsis and TYPE_UNKNOWN decode to nil,
// and any tag readByTag does not handle (including the text-encoded
// tagFloat/tagComplex) fails the load with a LoadError.
const (
	tagNull              = '0'
	tagNone              = 'N'
	tagFalse             = 'F'
	tagTrue              = 'T'
	tagStopIter          = 'S'
	tagEllipsis          = '.'
	tagInt               = 'i'
	tagInt64             = 'I'
	tagFloat             = 'f'
	tagBinaryFloat       = 'g'
	tagComplex           = 'x'
	tagBinaryComplex     = 'y'
	tagLong              = 'l'
	tagString            = 's'
	tagInterned          = 't'
	tagRef               = 'r'
	tagTuple             = '('
	tagSmallTuple        = ')'
	tagList              = '['
	tagDict              = '{'
	tagCode              = 'c'
	tagUnicode           = 'u'
	tagUnknown           = '?'
	tagSet               = '<'
	tagFrozenSet         = '>'
	tagASCII             = 'a'
	tagASCIIInterned     = 'A'
	tagShortASCII        = 'z'
	tagShortASCIIInterned = 'Z'

	flagRef = 0x80
)

// marshalReader decodes CPython's marshal wire format. It keeps a flat
// reference table (populated whenever a tag has the FLAG_REF bit set) so
// that TYPE_REF back-references resolve the same way CPython's own
// reader does.
type marshalReader struct {
	b       []byte
	pos     int
	refs    []any
	version bcopcode.Version
}

func newMarshalReader(b []byte, version bcopcode.Version) *marshalReader {
	return &marshalReader{b: b, version: version}
}

func (r *marshalReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("marshal: unexpected end of stream")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *marshalReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, fmt.Errorf("marshal: short read wanting %d bytes", n)
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *marshalReader) uint32() (uint32, error) {
	raw, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (r *marshalReader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

// readObject decodes one marshalled value, recording it in the reference
// table first if FLAG_REF is set, matching CPython's r_object order (the
// slot is reserved before the value is fully decoded so self-referential
// containers resolve, though this verifier never follows such cycles —
// see spec.md §9 on the constant forest being a DAG in practice).
func (r *marshalReader) readObject() (any, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	withRef := tag&flagRef != 0
	baseTag := tag &^ flagRef

	var slot int
	if withRef {
		slot = len(r.refs)
		r.refs = append(r.refs, nil)
	}

	val, err := r.readByTag(baseTag)
	if err != nil {
		return nil, err
	}
	if withRef {
		r.refs[slot] = val
	}
	return val, nil
}

// PyNone is the decoded value of a TYPE_NONE marshal tag. It is kept
// distinct from Go's nil so dict-termination (TYPE_NULL, below) can tell
// "the key was None" apart from "there is no more key", and exported so
// downstream packages can recognize a None-valued constant.
type PyNone struct{}

// nullSentinel is the decoded value of a TYPE_NULL marshal tag, which
// CPython uses only to terminate a dict's key/value stream.
type nullSentinel struct{}

// PyList is the decoded value of a TYPE_LIST marshal tag. A plain []any
// is a tuple; PyList and PySet exist so downstream packages (bcdisasm's
// const-to-token resolution) can tell list/set/frozenset apart from a
// tuple without re-deriving it from the tag byte, which is discarded
// once decoding is done.
type PyList []any

// PySet is the decoded value of a TYPE_SET or TYPE_FROZENSET marshal
// tag. The verifier's token alphabet doesn't distinguish a frozenset
// from a set, so both decode to PySet.
type PySet []any

func (r *marshalReader) readByTag(tag byte) (any, error) {
	switch tag {
	case tagNull:
		return nullSentinel{}, nil
	case tagNone:
		return PyNone{}, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagStopIter, tagEllipsis, tagUnknown:
		return nil, nil
	case tagInt:
		v, err := r.int32()
		return int64(v), err
	case tagInt64:
		raw, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(raw)), nil
	case tagBinaryFloat:
		raw, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	case tagBinaryComplex:
		realRaw, err := r.take(8)
		if err != nil {
			return nil, err
		}
		imagRaw, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return complex(
			math.Float64frombits(binary.LittleEndian.Uint64(realRaw)),
			math.Float64frombits(binary.LittleEndian.Uint64(imagRaw)),
		), nil
	case tagLong:
		return r.readLong()
	case tagString:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	case tagUnicode, tagInterned, tagASCII, tagASCIIInterned:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case tagShortASCII, tagShortASCIIInterned:
		n, err := r.byte()
		if err != nil {
			return nil, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case tagSmallTuple:
		n, err := r.byte()
		if err != nil {
			return nil, err
		}
		return r.readSeq(int(n))
	case tagTuple:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		return r.readSeq(int(n))
	case tagList:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		items, err := r.readSeq(int(n))
		if err != nil {
			return nil, err
		}
		return PyList(items), nil
	case tagSet, tagFrozenSet:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		items, err := r.readSeq(int(n))
		if err != nil {
			return nil, err
		}
		return PySet(items), nil
	case tagDict:
		var pairs []DictEntry
		for {
			key, err := r.readObject()
			if err != nil {
				return nil, err
			}
			if _, done := key.(nullSentinel); done {
				break
			}
			val, err := r.readObject()
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, DictEntry{Key: key, Val: val})
		}
		return pairs, nil
	case tagRef:
		idx, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(r.refs) {
			return nil, fmt.Errorf("marshal: invalid back-reference %d", idx)
		}
		return r.refs[idx], nil
	case tagCode:
		return r.readCode()
	default:
		return nil, bcerr.New(bcerr.LoadError, fmt.Sprintf("marshal: unknown type tag %q", tag))
	}
}

func (r *marshalReader) readSeq(n int) ([]any, error) {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := r.readObject()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readLong decodes CPython's TYPE_LONG arbitrary-precision representation
// (a signed digit count followed by 15-bit digits, little-endian) into an
// int64. Values that overflow int64 saturate rather than erroring, since
// the verifier only ever needs the token-level representation of a
// constant, never its exact value for arithmetic.
func (r *marshalReader) readLong() (int64, error) {
	n, err := r.int32()
	if err != nil {
		return 0, err
	}
	neg := n < 0
	count := int(n)
	if neg {
		count = -count
	}
	var v int64
	overflow := false
	for i := 0; i < count; i++ {
		raw, err := r.take(2)
		if err != nil {
			return 0, err
		}
		digit := int64(binary.LittleEndian.Uint16(raw))
		shift := 15 * i
		if overflow || digit == 0 {
			continue
		}
		if shift >= 63 || digit>>uint(63-shift) != 0 {
			overflow = true
			continue
		}
		v |= digit << shift
	}
	if overflow {
		v = math.MaxInt64
	}
	if neg {
		v = -v
	}
	return v, nil
}

// DictEntry is one key/value pair of a marshalled dict constant. It is
// exported so packages downstream of bcloader (bcdisasm's const-to-token
// resolution, in particular) can walk dict-shaped constants without
// reaching into bcloader's decoder internals.
type DictEntry struct {
	Key any
	Val any
}
