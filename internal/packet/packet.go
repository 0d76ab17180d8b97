// Package packet implements the typed message unit exchanged between the
// local device and a remote device: one JSON object per packet, with a
// namespaced type, an ordered body and an optional payload descriptor.
package packet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrMalformedPacket is returned for structurally invalid packets.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrFieldMissing is returned by accessors when a body field is absent.
	ErrFieldMissing = errors.New("field missing")
	// ErrTypeMismatch is returned by accessors when a field holds another type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Payload describes a binary attachment that travels out of band.
type Payload struct {
	// Size in bytes; -1 when the sender did not announce it.
	Size         int64
	TransferInfo *Object
}

// Packet is immutable once built or decoded.
type Packet struct {
	id      int64
	typ     string
	body    *Object
	payload *Payload
}

func (p *Packet) ID() int64 {
	return p.id
}

func (p *Packet) Type() string {
	return p.typ
}

// Body returns the packet body. The returned object must not be modified.
func (p *Packet) Body() *Object {
	return p.body
}

func (p *Packet) HasPayload() bool {
	return p.payload != nil
}

func (p *Packet) Payload() (Payload, bool) {
	if p.payload == nil {
		return Payload{}, false
	}
	return *p.payload, true
}

func (p *Packet) GetString(field string) (string, error) {
	return p.body.GetString(field)
}

func (p *Packet) GetInt(field string) (int64, error) {
	return p.body.GetInt(field)
}

func (p *Packet) GetBool(field string) (bool, error) {
	return p.body.GetBool(field)
}

func (p *Packet) GetObject(field string) (*Object, error) {
	return p.body.GetObject(field)
}

func (p *Packet) GetStrings(field string) ([]string, error) {
	return p.body.GetStrings(field)
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s#%d", p.typ, p.id)
}

type wirePacket struct {
	ID                  int64   `json:"id"`
	Type                string  `json:"type"`
	Body                *Object `json:"body"`
	PayloadSize         *int64  `json:"payloadSize,omitempty"`
	PayloadTransferInfo *Object `json:"payloadTransferInfo,omitempty"`
}

// Decode parses one packet. Any structural problem, including a missing
// type or body, is reported as ErrMalformedPacket.
func Decode(data []byte) (*Packet, error) {
	var w wirePacket
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPacket)
	}
	if w.Body == nil {
		return nil, fmt.Errorf("%w: %s: missing body", ErrMalformedPacket, w.Type)
	}
	p := &Packet{id: w.ID, typ: w.Type, body: w.Body}
	if w.PayloadTransferInfo != nil {
		size := int64(-1)
		if w.PayloadSize != nil {
			size = *w.PayloadSize
		}
		p.payload = &Payload{Size: size, TransferInfo: w.PayloadTransferInfo}
	}
	return p, nil
}

// Encode serializes a packet without a trailing newline.
func Encode(p *Packet) ([]byte, error) {
	w := wirePacket{ID: p.id, Type: p.typ, Body: p.body}
	if w.Body == nil {
		w.Body = newObject()
	}
	if p.payload != nil {
		size := p.payload.Size
		w.PayloadSize = &size
		w.PayloadTransferInfo = p.payload.TransferInfo
		if w.PayloadTransferInfo == nil {
			w.PayloadTransferInfo = newObject()
		}
	}
	return json.Marshal(w)
}

// Builder assembles a packet incrementally.
type Builder struct {
	typ     string
	body    *Object
	payload *Payload
	err     error
}

// New starts a packet of the given type.
func New(typ string) *Builder {
	return &Builder{typ: typ, body: newObject()}
}

// Set adds a body field. The value is encoded with encoding/json; the first
// encoding error is reported by Finish.
func (b *Builder) Set(field string, value interface{}) *Builder {
	if b.err != nil {
		return b
	}
	raw, err := json.Marshal(value)
	if err != nil {
		b.err = fmt.Errorf("field %q: %w", field, err)
		return b
	}
	b.body.set(field, raw)
	return b
}

// SetPayload attaches a payload descriptor.
func (b *Builder) SetPayload(size int64, transferInfo map[string]interface{}) *Builder {
	if b.err != nil {
		return b
	}
	info := newObject()
	for key, value := range transferInfo {
		raw, err := json.Marshal(value)
		if err != nil {
			b.err = fmt.Errorf("payload transfer info %q: %w", key, err)
			return b
		}
		info.set(key, raw)
	}
	b.payload = &Payload{Size: size, TransferInfo: info}
	return b
}

// Finish freezes the packet. The builder must not be reused.
func (b *Builder) Finish() (*Packet, error) {
	if b.typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPacket)
	}
	if b.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPacket, b.typ, b.err)
	}
	p := &Packet{id: nextID(), typ: b.typ, body: b.body, payload: b.payload}
	b.body = nil
	return p, nil
}

// MustFinish is Finish for packets whose type and fields are constants.
func (b *Builder) MustFinish() *Packet {
	p, err := b.Finish()
	if err != nil {
		panic(err)
	}
	return p
}

var (
	idMu   sync.Mutex
	lastID int64
)

// nextID returns the current time in milliseconds, bumped so ids never repeat.
func nextID() int64 {
	idMu.Lock()
	defer idMu.Unlock()
	id := time.Now().UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}
