package main

import (
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/dbutil"
)

// peer is an address a device was reached at.
type peer struct {
	Addr          string
	LastConnected time.Time
}

func (p peer) DBTable() string {
	return "peers"
}

func (p peer) DBKey() []byte {
	return []byte(p.Addr)
}

func savePeer(db *bolt.DB, addr string, at time.Time) error {
	if err := dbutil.UpsertSaveable(db, peer{Addr: addr, LastConnected: at}); err != nil {
		return fmt.Errorf("failed to save peer %s: %w", addr, err)
	}
	return nil
}

// knownPeers returns the remembered addresses, most recent first.
func knownPeers(db *bolt.DB) ([]string, error) {
	var peers []peer
	err := dbutil.ForEachPrefix(db, peer{}.DBTable(), nil, func(key []byte, p peer) error {
		peers = append(peers, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read peers: %w", err)
	}
	sort.SliceStable(peers, func(i, j int) bool {
		return peers[i].LastConnected.After(peers[j].LastConnected)
	})
	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = p.Addr
	}
	return addrs, nil
}
