package core

// codec.go – the deterministic wire encoding (§4.2): encode(decode(b)) == b
// and encode is injective, so two semantically equal values always produce
// identical bytes (required for ContentHash/MessageHash to be stable and
// for the settlement Merkle root to be reproducible across nodes).
//
// No canonical-CBOR library is pulled in for this: WAL/snapshot records
// elsewhere in this package (see ledger.go) get away with encoding/json's
// own key-sorting, but a signed Merkle leaf needs an exact, minimal byte
// encoding that a JSON-based approach can't guarantee, so this one
// component hand-rolls a small CBOR-like encoder on the standard library
// alone (see DESIGN.md).

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"time"
)

// Major types, CBOR-compatible in spirit though not a full CBOR
// implementation: only the shapes the wire envelope and manifest actually
// need are supported.
const (
	majUint    byte = 0x00
	majNegInt  byte = 0x01
	majBytes   byte = 0x02
	majString  byte = 0x03
	majArray   byte = 0x04
	majMap     byte = 0x05
	majFloat   byte = 0x06
	majBool    byte = 0x07
	majNull    byte = 0x08
)

// Value is the decoded form produced by Decode: one of nil, bool, int64,
// uint64, float64, string, []byte, []Value, or map[string]Value.
type Value interface{}

// Encoder builds a deterministic byte stream.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) writeHeader(major byte, n uint64) {
	e.buf = append(e.buf, major)
	e.buf = appendMinimalUint(e.buf, n)
}

// appendMinimalUint encodes n in the fewest bytes: a 1-byte length prefix
// (0,1,2,4,8) followed by that many big-endian bytes.
func appendMinimalUint(buf []byte, n uint64) []byte {
	switch {
	case n == 0:
		return append(buf, 0)
	case n <= 0xff:
		return append(buf, 1, byte(n))
	case n <= 0xffff:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(n))
		return append(append(buf, 2), b...)
	case n <= 0xffffffff:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(n))
		return append(append(buf, 4), b...)
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, n)
		return append(append(buf, 8), b...)
	}
}

func (e *Encoder) PutUint(n uint64) { e.writeHeader(majUint, n) }

func (e *Encoder) PutInt(n int64) {
	if n >= 0 {
		e.writeHeader(majUint, uint64(n))
		return
	}
	e.writeHeader(majNegInt, uint64(-n))
}

func (e *Encoder) PutBytes(b []byte) {
	e.writeHeader(majBytes, uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) PutString(s string) {
	e.writeHeader(majString, uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) PutBool(b bool) {
	e.buf = append(e.buf, majBool)
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) PutFloat(f float64) {
	e.buf = append(e.buf, majFloat)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) PutNull() { e.buf = append(e.buf, majNull) }

// PutArrayHeader writes the header of an n-element array; the caller
// encodes each element via repeated Put* calls immediately after.
func (e *Encoder) PutArrayHeader(n int) { e.writeHeader(majArray, uint64(n)) }

// PutMap writes the map header, then each (key, value) pair in lexicographic
// key order — this ordering is what makes the whole encoding deterministic
// for Go maps, which otherwise have randomized iteration order.
func (e *Encoder) PutMap(m map[string]func(*Encoder)) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.writeHeader(majMap, uint64(len(keys)))
	for _, k := range keys {
		e.PutString(k)
		m[k](e)
	}
}

//---------------------------------------------------------------------
// Manifest encoding
//---------------------------------------------------------------------

// EncodeManifest renders m into its canonical deterministic byte form.
// Two manifests are equal iff their encodings are equal; this is the
// representation a manifest travels in on the wire and the one any hash
// or signature over a manifest is computed from.
func EncodeManifest(m Manifest) []byte {
	enc := NewEncoder()
	putManifest(enc, m)
	return enc.Bytes()
}

func putManifest(e *Encoder, m Manifest) {
	e.PutMap(map[string]func(*Encoder){
		"hash":         func(e *Encoder) { e.PutBytes(m.Hash[:]) },
		"content_type": func(e *Encoder) { e.PutUint(uint64(m.ContentType)) },
		"owner":        func(e *Encoder) { e.PutBytes(m.Owner[:]) },
		"version":      func(e *Encoder) { putVersion(e, m.Version) },
		"visibility":   func(e *Encoder) { e.PutUint(uint64(m.Visibility)) },
		"access":       func(e *Encoder) { putAccess(e, m.Access) },
		"metadata":     func(e *Encoder) { putMetadata(e, m.Metadata) },
		"economics":    func(e *Encoder) { putEconomics(e, m.Economics) },
		"provenance":   func(e *Encoder) { putProvenance(e, m.Provenance) },
		"created_at":   func(e *Encoder) { e.PutInt(m.CreatedAt.UnixNano()) },
		"updated_at":   func(e *Encoder) { e.PutInt(m.UpdatedAt.UnixNano()) },
	})
}

func putVersion(e *Encoder, v Version) {
	e.PutMap(map[string]func(*Encoder){
		"number": func(e *Encoder) { e.PutUint(v.Number) },
		"previous": func(e *Encoder) {
			if v.Previous == nil {
				e.PutNull()
				return
			}
			e.PutBytes(v.Previous[:])
		},
		"root":      func(e *Encoder) { e.PutBytes(v.Root[:]) },
		"timestamp": func(e *Encoder) { e.PutInt(v.Timestamp.UnixNano()) },
	})
}

func putAccess(e *Encoder, a AccessControl) {
	e.PutMap(map[string]func(*Encoder){
		"allowlist": func(e *Encoder) { putPeerList(e, a.Allowlist) },
		"denylist":  func(e *Encoder) { putPeerList(e, a.Denylist) },
		"bond_min":  func(e *Encoder) { e.PutUint(a.BondMin) },
	})
}

func putPeerList(e *Encoder, peers []PeerID) {
	e.PutArrayHeader(len(peers))
	for _, p := range peers {
		e.PutBytes(p[:])
	}
}

func putMetadata(e *Encoder, m Metadata) {
	e.PutMap(map[string]func(*Encoder){
		"title":       func(e *Encoder) { e.PutString(m.Title) },
		"description": func(e *Encoder) { e.PutString(m.Description) },
		"tags": func(e *Encoder) {
			e.PutArrayHeader(len(m.Tags))
			for _, t := range m.Tags {
				e.PutString(t)
			}
		},
	})
}

func putEconomics(e *Encoder, ec Economics) {
	e.PutMap(map[string]func(*Encoder){
		"price":         func(e *Encoder) { e.PutUint(ec.Price) },
		"total_queries": func(e *Encoder) { e.PutUint(ec.TotalQueries) },
		"total_earned":  func(e *Encoder) { e.PutUint(ec.TotalEarned) },
	})
}

func putProvenance(e *Encoder, p Provenance) {
	e.PutMap(map[string]func(*Encoder){
		"root_l0l1": func(e *Encoder) {
			e.PutArrayHeader(len(p.RootL0L1))
			for _, r := range p.RootL0L1 {
				e.PutMap(map[string]func(*Encoder){
					"hash":       func(e *Encoder) { e.PutBytes(r.Hash[:]) },
					"owner":      func(e *Encoder) { e.PutBytes(r.Owner[:]) },
					"visibility": func(e *Encoder) { e.PutUint(uint64(r.Visibility)) },
					"weight":     func(e *Encoder) { e.PutUint(r.Weight) },
				})
			}
		},
		"derived_from": func(e *Encoder) {
			e.PutArrayHeader(len(p.DerivedFrom))
			for _, h := range p.DerivedFrom {
				e.PutBytes(h[:])
			}
		},
		"depth": func(e *Encoder) { e.PutUint(uint64(p.Depth)) },
	})
}

//---------------------------------------------------------------------
// Decoder
//---------------------------------------------------------------------

type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(b []byte) *Decoder { return &Decoder{buf: b} }

var errShort = errors.New("nodalync: codec: truncated input")

func (d *Decoder) readMinimalUint() (uint64, error) {
	if d.pos >= len(d.buf) {
		return 0, errShort
	}
	l := d.buf[d.pos]
	d.pos++
	switch l {
	case 0:
		return 0, nil
	case 1:
		if d.pos+1 > len(d.buf) {
			return 0, errShort
		}
		v := uint64(d.buf[d.pos])
		d.pos++
		return v, nil
	case 2:
		if d.pos+2 > len(d.buf) {
			return 0, errShort
		}
		v := uint64(binary.BigEndian.Uint16(d.buf[d.pos:]))
		d.pos += 2
		return v, nil
	case 4:
		if d.pos+4 > len(d.buf) {
			return 0, errShort
		}
		v := uint64(binary.BigEndian.Uint32(d.buf[d.pos:]))
		d.pos += 4
		return v, nil
	case 8:
		if d.pos+8 > len(d.buf) {
			return 0, errShort
		}
		v := binary.BigEndian.Uint64(d.buf[d.pos:])
		d.pos += 8
		return v, nil
	default:
		return 0, errShort
	}
}

func (d *Decoder) next() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errShort
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// Decode parses one top-level Value from the stream.
func (d *Decoder) Decode() (Value, error) {
	major, err := d.next()
	if err != nil {
		return nil, err
	}
	switch major {
	case majUint:
		n, err := d.readMinimalUint()
		return n, err
	case majNegInt:
		n, err := d.readMinimalUint()
		if err != nil {
			return nil, err
		}
		return -int64(n), nil
	case majBytes:
		n, err := d.readMinimalUint()
		if err != nil {
			return nil, err
		}
		if d.pos+int(n) > len(d.buf) {
			return nil, errShort
		}
		b := append([]byte(nil), d.buf[d.pos:d.pos+int(n)]...)
		d.pos += int(n)
		return b, nil
	case majString:
		n, err := d.readMinimalUint()
		if err != nil {
			return nil, err
		}
		if d.pos+int(n) > len(d.buf) {
			return nil, errShort
		}
		s := string(d.buf[d.pos : d.pos+int(n)])
		d.pos += int(n)
		return s, nil
	case majArray:
		n, err := d.readMinimalUint()
		if err != nil {
			return nil, err
		}
		arr := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := d.Decode()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case majMap:
		n, err := d.readMinimalUint()
		if err != nil {
			return nil, err
		}
		m := make(map[string]Value, n)
		for i := uint64(0); i < n; i++ {
			kv, err := d.Decode()
			if err != nil {
				return nil, err
			}
			k, ok := kv.(string)
			if !ok {
				return nil, ErrMalformedEnvelope
			}
			v, err := d.Decode()
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case majFloat:
		if d.pos+8 > len(d.buf) {
			return nil, errShort
		}
		bits := binary.BigEndian.Uint64(d.buf[d.pos:])
		d.pos += 8
		return math.Float64frombits(bits), nil
	case majBool:
		b, err := d.next()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case majNull:
		return nil, nil
	default:
		return nil, ErrMalformedEnvelope
	}
}

//---------------------------------------------------------------------
// Manifest decoding
//---------------------------------------------------------------------

// DecodeManifest parses a canonical manifest encoding back into a
// Manifest. Encode and Decode are byte-for-byte inverses:
// EncodeManifest(DecodeManifest(b)) == b for any b EncodeManifest produced.
func DecodeManifest(raw []byte) (Manifest, error) {
	v, err := NewDecoder(raw).Decode()
	if err != nil {
		return Manifest{}, err
	}
	root, ok := v.(map[string]Value)
	if !ok {
		return Manifest{}, ErrMalformedEnvelope
	}

	var m Manifest
	if m.Hash, err = fieldHash(root, "hash"); err != nil {
		return Manifest{}, err
	}
	ct, err := fieldUint(root, "content_type")
	if err != nil {
		return Manifest{}, err
	}
	m.ContentType = ContentType(ct)
	if m.Owner, err = fieldPeer(root, "owner"); err != nil {
		return Manifest{}, err
	}
	vis, err := fieldUint(root, "visibility")
	if err != nil {
		return Manifest{}, err
	}
	m.Visibility = Visibility(vis)

	if m.Version, err = decodeVersion(root["version"]); err != nil {
		return Manifest{}, err
	}
	if m.Access, err = decodeAccess(root["access"]); err != nil {
		return Manifest{}, err
	}
	if m.Metadata, err = decodeMetadata(root["metadata"]); err != nil {
		return Manifest{}, err
	}
	if m.Economics, err = decodeEconomics(root["economics"]); err != nil {
		return Manifest{}, err
	}
	if m.Provenance, err = decodeProvenance(root["provenance"]); err != nil {
		return Manifest{}, err
	}
	if m.CreatedAt, err = fieldTime(root, "created_at"); err != nil {
		return Manifest{}, err
	}
	if m.UpdatedAt, err = fieldTime(root, "updated_at"); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func decodeVersion(v Value) (Version, error) {
	mp, ok := v.(map[string]Value)
	if !ok {
		return Version{}, ErrMalformedEnvelope
	}
	var out Version
	var err error
	if out.Number, err = fieldUint(mp, "number"); err != nil {
		return Version{}, err
	}
	if mp["previous"] != nil {
		prev, err := fieldHash(mp, "previous")
		if err != nil {
			return Version{}, err
		}
		out.Previous = &prev
	}
	if out.Root, err = fieldHash(mp, "root"); err != nil {
		return Version{}, err
	}
	if out.Timestamp, err = fieldTime(mp, "timestamp"); err != nil {
		return Version{}, err
	}
	return out, nil
}

func decodeAccess(v Value) (AccessControl, error) {
	mp, ok := v.(map[string]Value)
	if !ok {
		return AccessControl{}, ErrMalformedEnvelope
	}
	var out AccessControl
	var err error
	if out.Allowlist, err = decodePeerList(mp["allowlist"]); err != nil {
		return AccessControl{}, err
	}
	if out.Denylist, err = decodePeerList(mp["denylist"]); err != nil {
		return AccessControl{}, err
	}
	if out.BondMin, err = fieldUint(mp, "bond_min"); err != nil {
		return AccessControl{}, err
	}
	return out, nil
}

func decodePeerList(v Value) ([]PeerID, error) {
	arr, ok := v.([]Value)
	if !ok {
		return nil, ErrMalformedEnvelope
	}
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]PeerID, 0, len(arr))
	for _, el := range arr {
		p, err := asPeer(el)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeMetadata(v Value) (Metadata, error) {
	mp, ok := v.(map[string]Value)
	if !ok {
		return Metadata{}, ErrMalformedEnvelope
	}
	var out Metadata
	out.Title, _ = mp["title"].(string)
	out.Description, _ = mp["description"].(string)
	tags, ok := mp["tags"].([]Value)
	if !ok {
		return Metadata{}, ErrMalformedEnvelope
	}
	for _, t := range tags {
		s, ok := t.(string)
		if !ok {
			return Metadata{}, ErrMalformedEnvelope
		}
		out.Tags = append(out.Tags, s)
	}
	return out, nil
}

func decodeEconomics(v Value) (Economics, error) {
	mp, ok := v.(map[string]Value)
	if !ok {
		return Economics{}, ErrMalformedEnvelope
	}
	var out Economics
	var err error
	if out.Price, err = fieldUint(mp, "price"); err != nil {
		return Economics{}, err
	}
	if out.TotalQueries, err = fieldUint(mp, "total_queries"); err != nil {
		return Economics{}, err
	}
	if out.TotalEarned, err = fieldUint(mp, "total_earned"); err != nil {
		return Economics{}, err
	}
	return out, nil
}

func decodeProvenance(v Value) (Provenance, error) {
	mp, ok := v.(map[string]Value)
	if !ok {
		return Provenance{}, ErrMalformedEnvelope
	}
	var out Provenance
	roots, ok := mp["root_l0l1"].([]Value)
	if !ok {
		return Provenance{}, ErrMalformedEnvelope
	}
	for _, rv := range roots {
		rm, ok := rv.(map[string]Value)
		if !ok {
			return Provenance{}, ErrMalformedEnvelope
		}
		var entry RootEntry
		var err error
		if entry.Hash, err = fieldHash(rm, "hash"); err != nil {
			return Provenance{}, err
		}
		if entry.Owner, err = fieldPeer(rm, "owner"); err != nil {
			return Provenance{}, err
		}
		vis, err := fieldUint(rm, "visibility")
		if err != nil {
			return Provenance{}, err
		}
		entry.Visibility = Visibility(vis)
		if entry.Weight, err = fieldUint(rm, "weight"); err != nil {
			return Provenance{}, err
		}
		out.RootL0L1 = append(out.RootL0L1, entry)
	}
	derived, ok := mp["derived_from"].([]Value)
	if !ok {
		return Provenance{}, ErrMalformedEnvelope
	}
	for _, dv := range derived {
		h, err := asHash(dv)
		if err != nil {
			return Provenance{}, err
		}
		out.DerivedFrom = append(out.DerivedFrom, h)
	}
	depth, err := fieldUint(mp, "depth")
	if err != nil {
		return Provenance{}, err
	}
	out.Depth = uint32(depth)
	return out, nil
}

func fieldUint(mp map[string]Value, key string) (uint64, error) {
	n, ok := mp[key].(uint64)
	if !ok {
		return 0, ErrMalformedEnvelope
	}
	return n, nil
}

// fieldTime reads a UnixNano timestamp; non-negative values decode as
// uint64, pre-epoch ones as int64.
func fieldTime(mp map[string]Value, key string) (time.Time, error) {
	switch n := mp[key].(type) {
	case uint64:
		return time.Unix(0, int64(n)).UTC(), nil
	case int64:
		return time.Unix(0, n).UTC(), nil
	default:
		return time.Time{}, ErrMalformedEnvelope
	}
}

func fieldHash(mp map[string]Value, key string) (Hash, error) {
	return asHash(mp[key])
}

func asHash(v Value) (Hash, error) {
	b, ok := v.([]byte)
	if !ok || len(b) != len(Hash{}) {
		return Hash{}, ErrMalformedEnvelope
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func fieldPeer(mp map[string]Value, key string) (PeerID, error) {
	return asPeer(mp[key])
}

func asPeer(v Value) (PeerID, error) {
	b, ok := v.([]byte)
	if !ok || len(b) != len(PeerID{}) {
		return PeerID{}, ErrMalformedEnvelope
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}
