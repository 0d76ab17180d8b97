package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestKnownPeersMostRecentFirst(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "data.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer db.Close()

	peers, err := knownPeers(db)
	require.NoError(t, err)
	assert.Empty(t, peers)

	now := time.Now()
	require.NoError(t, savePeer(db, "192.168.1.10:1716", now.Add(-time.Hour)))
	require.NoError(t, savePeer(db, "192.168.1.22:1716", now))
	require.NoError(t, savePeer(db, "phone.local:1716", now.Add(-2*time.Hour)))
	// reconnecting moves an address to the front
	require.NoError(t, savePeer(db, "phone.local:1716", now.Add(time.Minute)))

	peers, err = knownPeers(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"phone.local:1716", "192.168.1.22:1716", "192.168.1.10:1716"}, peers)
}

func TestSettingLabel(t *testing.T) {
	assert.Equal(t, "Offline notification", settingLabel("offline-notification"))
	assert.Equal(t, "Share state", settingLabel("share-state"))
	assert.Equal(t, "", settingLabel(""))
}
