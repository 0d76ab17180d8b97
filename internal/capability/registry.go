package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"go.pairlink.org/internal/packet"
)

var ErrDuplicateCapability = errors.New("duplicate capability")

type Entry struct {
	Descriptor Descriptor
	Factory    Factory
}

// Registry collects capabilities at startup.
type Registry struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a capability. Registration order is the order in which
// sessions create plugins and deliver state changes.
func (r *Registry) Register(d Descriptor, f Factory) error {
	if d.ID == "" {
		return errors.New("capability id cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("capability %s has no factory", d.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Descriptor.ID == d.ID {
			return fmt.Errorf("%w: id %s registered twice", ErrDuplicateCapability, d.ID)
		}
	}
	r.entries = append(r.entries, Entry{Descriptor: d, Factory: f})
	return nil
}

// Announcement is the capability part of the identity packet.
type Announcement struct {
	Incoming []string
	Outgoing []string
}

// Table is the frozen routing table compiled from a registry.
type Table struct {
	entries      []Entry
	routes       map[string]int
	schemas      map[string]*gojsonschema.Schema
	announcement Announcement
}

// Compile checks that no packet type is claimed twice, compiles body schemas
// and builds the announcement. Any error is a configuration error.
func (r *Registry) Compile() (*Table, error) {
	r.mu.Lock()
	entries := append([]Entry(nil), r.entries...)
	r.mu.Unlock()

	t := &Table{
		entries: entries,
		routes:  make(map[string]int),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	outgoing := make(map[string]struct{})
	for i, e := range entries {
		d := e.Descriptor
		for _, typ := range d.Incoming {
			if typ == "" {
				return nil, fmt.Errorf("capability %s accepts an empty packet type", d.ID)
			}
			if j, ok := t.routes[typ]; ok {
				return nil, fmt.Errorf("%w: packet type %s claimed by %s and %s", ErrDuplicateCapability, typ, entries[j].Descriptor.ID, d.ID)
			}
			t.routes[typ] = i
		}
		for _, typ := range d.Outgoing {
			outgoing[typ] = struct{}{}
		}
		for typ, source := range d.Schemas {
			if j, ok := t.routes[typ]; !ok || j != i {
				return nil, fmt.Errorf("capability %s has a schema for %s which it does not accept", d.ID, typ)
			}
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
			if err != nil {
				return nil, fmt.Errorf("capability %s: schema for %s failed to compile: %w", d.ID, typ, err)
			}
			t.schemas[typ] = schema
		}
	}
	for typ := range t.routes {
		t.announcement.Incoming = append(t.announcement.Incoming, typ)
	}
	for typ := range outgoing {
		t.announcement.Outgoing = append(t.announcement.Outgoing, typ)
	}
	sort.Strings(t.announcement.Incoming)
	sort.Strings(t.announcement.Outgoing)
	return t, nil
}

// Entries returns the capabilities in registration order.
func (t *Table) Entries() []Entry {
	return t.entries
}

func (t *Table) Announcement() Announcement {
	return Announcement{
		Incoming: append([]string(nil), t.announcement.Incoming...),
		Outgoing: append([]string(nil), t.announcement.Outgoing...),
	}
}

// Lookup returns the index in Entries of the capability accepting typ.
func (t *Table) Lookup(typ string) (int, bool) {
	i, ok := t.routes[typ]
	return i, ok
}

// Validate checks the body of p against the schema of its type, if any.
// Violations wrap packet.ErrMalformedPacket.
func (t *Table) Validate(p *packet.Packet) error {
	schema, ok := t.schemas[p.Type()]
	if !ok {
		return nil
	}
	body, err := p.Body().MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", packet.ErrMalformedPacket, p.Type(), err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", packet.ErrMalformedPacket, p.Type(), err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("%w: %s: %s", packet.ErrMalformedPacket, p.Type(), strings.Join(details, "; "))
	}
	return nil
}
