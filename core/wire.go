package core

// wire.go – the on-the-wire envelope and message type table (§6): an
// Envelope is a fixed big-endian frame signed by the sender's Identity,
// following the same domain-separated hash-then-sign shape used everywhere
// else in this package, adapted to Ed25519 rather than ECDSA.
// Transport.Send/Publish carry raw bytes and do not wrap them in an
// Envelope themselves.

import (
	"encoding/binary"
	"fmt"
)

const (
	wireMagic   byte = 0x00
	wireVersion byte = 0x01
	sigLen           = 64
)

// MessageType is the u16 message type tag from §6's type table.
type MessageType uint16

const (
	MsgAnnounce       MessageType = 0x0100
	MsgAnnounceUpdate MessageType = 0x0101
	MsgSearch         MessageType = 0x0110
	MsgSearchResponse MessageType = 0x0111

	MsgPreviewRequest  MessageType = 0x0200
	MsgPreviewResponse MessageType = 0x0201

	MsgQueryRequest  MessageType = 0x0300
	MsgQueryResponse MessageType = 0x0301
	MsgQueryError    MessageType = 0x0302

	MsgVersionRequest  MessageType = 0x0400
	MsgVersionResponse MessageType = 0x0401

	MsgChannelOpen    MessageType = 0x0500
	MsgChannelAccept  MessageType = 0x0501
	MsgChannelUpdate  MessageType = 0x0502
	MsgChannelClose   MessageType = 0x0503
	MsgChannelDispute MessageType = 0x0504

	MsgSettleBatch   MessageType = 0x0600
	MsgSettleConfirm MessageType = 0x0601

	MsgPing     MessageType = 0x0700
	MsgPong     MessageType = 0x0701
	MsgPeerInfo MessageType = 0x0710
)

// Envelope is the wire format every Transport frame carries:
// magic(1) || version(1) || type(2) || length(4) || payload || sig(64).
type Envelope struct {
	Type    MessageType
	Payload []byte
	Sig     []byte
}

// Encode serializes e into the exact byte layout §6 specifies.
func (e Envelope) Encode() []byte {
	buf := make([]byte, 0, 1+1+2+4+len(e.Payload)+len(e.Sig))
	buf = append(buf, wireMagic, wireVersion)
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(e.Type))
	buf = append(buf, typeBuf[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, e.Payload...)
	buf = append(buf, e.Sig...)
	return buf
}

// DecodeEnvelope parses raw back into an Envelope, validating magic/version
// and that length matches the embedded payload before the trailing
// signature.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	if len(raw) < 1+1+2+4+sigLen {
		return Envelope{}, ErrMalformedEnvelope
	}
	if raw[0] != wireMagic {
		return Envelope{}, fmt.Errorf("%w: bad magic byte", ErrMalformedEnvelope)
	}
	if raw[1] != wireVersion {
		return Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, raw[1])
	}
	typ := MessageType(binary.BigEndian.Uint16(raw[2:4]))
	length := binary.BigEndian.Uint32(raw[4:8])
	body := raw[8:]
	if uint32(len(body)) != length+sigLen {
		return Envelope{}, fmt.Errorf("%w: length mismatch", ErrMalformedEnvelope)
	}
	payload := body[:length]
	sig := body[length:]
	return Envelope{Type: typ, Payload: append([]byte(nil), payload...), Sig: append([]byte(nil), sig...)}, nil
}

// signedBody is what envelope signatures are computed over: magic/version/
// type/length/payload, not the signature field itself. Payment and
// ChannelSnapshot signatures use their own bodies (paymentBody,
// snapshotBody).
func (e Envelope) signedBody() []byte {
	buf := make([]byte, 0, 1+1+2+4+len(e.Payload))
	buf = append(buf, wireMagic, wireVersion)
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(e.Type))
	buf = append(buf, typeBuf[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Payload)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, e.Payload...)
}

// NewSignedEnvelope builds and signs an Envelope of the given type and
// payload using id.
func NewSignedEnvelope(id *Identity, typ MessageType, payload []byte) Envelope {
	e := Envelope{Type: typ, Payload: payload}
	e.Sig = id.Sign(MessageHash(e.signedBody()))
	return e
}

// VerifyEnvelope checks e.Sig against senderPub.
func VerifyEnvelope(senderPub []byte, e Envelope) bool {
	return Verify(senderPub, MessageHash(e.signedBody()), e.Sig)
}
