package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/dbutil"
	"go.pairlink.org/internal/packet"
)

const (
	TypeIdentity = "kdeconnect.identity"
	TypePair     = "kdeconnect.pair"

	ProtocolVersion = 7
)

// Identity is exchanged first on every channel.
type Identity struct {
	ID              string
	Name            string
	Type            string
	ProtocolVersion int64
	TCPPort         int64
	Incoming        []string
	Outgoing        []string
}

func (id Identity) Packet() *packet.Packet {
	b := packet.New(TypeIdentity).
		Set("deviceId", id.ID).
		Set("deviceName", id.Name).
		Set("deviceType", id.Type).
		Set("protocolVersion", id.ProtocolVersion)
	if id.TCPPort > 0 {
		b.Set("tcpPort", id.TCPPort)
	}
	incoming, outgoing := id.Incoming, id.Outgoing
	if incoming == nil {
		incoming = []string{}
	}
	if outgoing == nil {
		outgoing = []string{}
	}
	return b.
		Set("incomingCapabilities", incoming).
		Set("outgoingCapabilities", outgoing).
		MustFinish()
}

// ParseIdentity reads an identity packet. deviceId is required; the other
// fields fall back to defaults.
func ParseIdentity(p *packet.Packet) (Identity, error) {
	if p.Type() != TypeIdentity {
		return Identity{}, fmt.Errorf("%w: expected %s, got %s", packet.ErrMalformedPacket, TypeIdentity, p.Type())
	}
	id, err := p.GetString("deviceId")
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identity deviceId: %w", packet.ErrMalformedPacket, err)
	}
	if !ValidID(id) {
		return Identity{}, fmt.Errorf("%w: invalid device id %q", packet.ErrMalformedPacket, id)
	}
	body := p.Body()
	identity := Identity{
		ID:              id,
		Name:            body.StringWithDefault("deviceName", id),
		Type:            body.StringWithDefault("deviceType", "phone"),
		ProtocolVersion: body.IntWithDefault("protocolVersion", 0),
		TCPPort:         body.IntWithDefault("tcpPort", 0),
	}
	if identity.Incoming, err = p.GetStrings("incomingCapabilities"); err != nil && !errors.Is(err, packet.ErrFieldMissing) {
		return Identity{}, fmt.Errorf("%w: identity incomingCapabilities: %w", packet.ErrMalformedPacket, err)
	}
	if identity.Outgoing, err = p.GetStrings("outgoingCapabilities"); err != nil && !errors.Is(err, packet.ErrFieldMissing) {
		return Identity{}, fmt.Errorf("%w: identity outgoingCapabilities: %w", packet.ErrMalformedPacket, err)
	}
	return identity, nil
}

// ValidID accepts the ids other implementations generate: 32 to 38
// characters of letters, digits and underscores.
func ValidID(id string) bool {
	if len(id) < 32 || len(id) > 38 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "_")
}

type localID struct {
	ID string
}

func (localID) DBTable() string {
	return "identity"
}

func (localID) DBKey() []byte {
	return []byte("local")
}

// LocalID returns the id of this device, creating it on first use.
func LocalID(db *bolt.DB) (string, error) {
	var rec localID
	err := dbutil.GetSaveable(db, &rec)
	if err == nil && ValidID(rec.ID) {
		return rec.ID, nil
	}
	if err != nil && !errors.Is(err, dbutil.ErrNotFound) {
		return "", fmt.Errorf("failed to read local device id: %w", err)
	}
	rec.ID = NewID()
	if err := dbutil.UpsertSaveable(db, rec); err != nil {
		return "", fmt.Errorf("failed to save local device id: %w", err)
	}
	return rec.ID, nil
}
