// Package wire implements the OPA frame layer: a 6-byte "signal" handshake,
// a 9-byte "committee" result prefix, and a raw client ciphertext frame
// recognized by elimination. All F/Vec<F> payloads are canonically
// CBOR-encoded so two independent implementations round-trip bit-exactly.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/opa-proto/opa/internal/field"
)

// TagSignal is the literal 6-byte ASCII handshake a committee member sends
// to request its shares.
const TagSignal = "signal"

// TagCommittee is the literal 9-byte ASCII prefix on a committee result
// frame.
const TagCommittee = "committee"

var canonicalMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building canonical CBOR encoder: %v", err))
	}
	canonicalMode = m
}

// elementsToBytes/bytesToElements convert field.Element slices to/from a
// wire-safe [][]byte shape, since field.Element holds an unexported big.Int
// and does not implement cbor (un)marshaling directly.

func elementsToBytes(es []field.Element) [][]byte {
	out := make([][]byte, len(es))
	for i, e := range es {
		out[i] = e.Bytes()
	}
	return out
}

func bytesToElements(bs [][]byte) ([]field.Element, error) {
	out := make([]field.Element, len(bs))
	for i, b := range bs {
		e, err := field.SetBytes(b)
		if err != nil {
			return nil, fmt.Errorf("wire: decoding field element %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// EncodeVector canonically serializes a single Vec<F>.
func EncodeVector(v []field.Element) ([]byte, error) {
	b, err := canonicalMode.Marshal(elementsToBytes(v))
	if err != nil {
		return nil, fmt.Errorf("wire: encoding vector: %w", err)
	}
	return b, nil
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]field.Element, error) {
	var raw [][]byte
	if err := cbor.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("wire: decoding vector: %w", err)
	}
	return bytesToElements(raw)
}

// Ciphertext is the client->server payload: the masked encoded input
// alongside the per-committee-member Shamir share rows.
type Ciphertext struct {
	C []field.Element   // masked, encoded input, length Lambda
	S [][]field.Element // S[i] is committee member i's share vector, length N
}

type wireCiphertext struct {
	C [][]byte   `cbor:"1,keyasint"`
	S [][][]byte `cbor:"2,keyasint"`
}

// EncodeCiphertext canonically serializes a client's (Vec<F>, Vec<Vec<F>>)
// ciphertext with no frame prefix — the server recognizes a client payload
// solely by elimination (not a signal handshake, not a committee result).
func EncodeCiphertext(ct Ciphertext) ([]byte, error) {
	w := wireCiphertext{C: elementsToBytes(ct.C), S: make([][][]byte, len(ct.S))}
	for i, row := range ct.S {
		w.S[i] = elementsToBytes(row)
	}
	b, err := canonicalMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding ciphertext: %w", err)
	}
	return b, nil
}

// DecodeCiphertext is the inverse of EncodeCiphertext.
func DecodeCiphertext(b []byte) (Ciphertext, error) {
	var w wireCiphertext
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Ciphertext{}, fmt.Errorf("wire: decoding ciphertext: %w", err)
	}
	c, err := bytesToElements(w.C)
	if err != nil {
		return Ciphertext{}, err
	}
	s := make([][]field.Element, len(w.S))
	for i, row := range w.S {
		es, err := bytesToElements(row)
		if err != nil {
			return Ciphertext{}, fmt.Errorf("wire: decoding ciphertext share row %d: %w", i, err)
		}
		s[i] = es
	}
	return Ciphertext{C: c, S: s}, nil
}

// CommitteeResult is the committee->server push: the 9-byte "committee"
// prefix, a little-endian u16 committee index, and the compressed
// serialization of the party's summed share vector sigma_i.
type CommitteeResult struct {
	Index uint16
	Sigma []field.Element
}

// EncodeCommitteeResult produces the full wire frame for a committee
// result, including the literal prefix.
func EncodeCommitteeResult(r CommitteeResult) ([]byte, error) {
	vec, err := EncodeVector(r.Sigma)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(TagCommittee)+2+len(vec))
	out = append(out, TagCommittee...)
	out = binary.LittleEndian.AppendUint16(out, r.Index)
	out = append(out, vec...)
	return out, nil
}

// DecodeCommitteeResult parses a frame already identified as a committee
// result (i.e. one whose first 9 bytes equal TagCommittee).
func DecodeCommitteeResult(frame []byte) (CommitteeResult, error) {
	prefixLen := len(TagCommittee)
	if len(frame) < prefixLen+2 {
		return CommitteeResult{}, fmt.Errorf("wire: committee frame too short (%d bytes)", len(frame))
	}
	if string(frame[:prefixLen]) != TagCommittee {
		return CommitteeResult{}, fmt.Errorf("wire: missing committee frame prefix")
	}
	index := binary.LittleEndian.Uint16(frame[prefixLen : prefixLen+2])
	sigma, err := DecodeVector(frame[prefixLen+2:])
	if err != nil {
		return CommitteeResult{}, fmt.Errorf("wire: decoding committee sigma: %w", err)
	}
	return CommitteeResult{Index: index, Sigma: sigma}, nil
}

// EncodeShareBatch produces the server->committee reply: a sequence of
// (u32 LE length, bytes) items, one per client whose shares were collected
// for this committee member.
func EncodeShareBatch(rows [][]field.Element) ([]byte, error) {
	var out []byte
	for i, row := range rows {
		b, err := EncodeVector(row)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding share batch item %d: %w", i, err)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(b)))
		out = append(out, b...)
	}
	return out, nil
}

// DecodeShareBatch is the inverse of EncodeShareBatch.
func DecodeShareBatch(b []byte) ([][]field.Element, error) {
	var rows [][]field.Element
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("wire: truncated share batch length prefix")
		}
		n := binary.LittleEndian.Uint32(b[:4])
		b = b[4:]
		if uint32(len(b)) < n {
			return nil, fmt.Errorf("wire: truncated share batch item (want %d, have %d)", n, len(b))
		}
		row, err := DecodeVector(b[:n])
		if err != nil {
			return nil, fmt.Errorf("wire: decoding share batch item: %w", err)
		}
		rows = append(rows, row)
		b = b[n:]
	}
	return rows, nil
}

// Classify inspects a connection's first 6 bytes (the amount the
// communicator always reads up front) and the full buffered payload (needed
// only to confirm the 9-byte "committee" prefix once the rest of the
// connection has been read to EOF) and classifies the frame as a signal
// handshake, a committee result, or (by elimination) a client ciphertext.
func Classify(first6 []byte, full []byte) (isSignal, isCommittee bool) {
	if len(first6) >= len(TagSignal) && string(first6[:len(TagSignal)]) == TagSignal {
		return true, false
	}
	if len(full) >= len(TagCommittee) && string(full[:len(TagCommittee)]) == TagCommittee {
		return false, true
	}
	return false, false
}
