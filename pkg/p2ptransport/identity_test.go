package p2ptransport

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestLoadOrCreateIdentityCreates(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test.key")

	priv, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() error = %v", err)
	}
	if priv == nil {
		t.Fatal("LoadOrCreateIdentity() returned nil key")
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode != 0600 {
			t.Errorf("key file permissions = %04o, want 0600", mode)
		}
	}
}

func TestLoadOrCreateIdentityLoadsExisting(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test.key")

	priv1, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("first LoadOrCreateIdentity() error = %v", err)
	}
	pid1, err := peer.IDFromPrivateKey(priv1)
	if err != nil {
		t.Fatalf("IDFromPrivateKey() error = %v", err)
	}

	priv2, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("second LoadOrCreateIdentity() error = %v", err)
	}
	pid2, err := peer.IDFromPrivateKey(priv2)
	if err != nil {
		t.Fatalf("IDFromPrivateKey() error = %v", err)
	}

	if pid1 != pid2 {
		t.Errorf("peer IDs differ across reload: %s != %s", pid1, pid2)
	}
}

func TestPeerIDFromKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test.key")

	id1, err := PeerIDFromKeyFile(keyPath)
	if err != nil {
		t.Fatalf("PeerIDFromKeyFile() error = %v", err)
	}

	priv, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() error = %v", err)
	}
	id2, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("IDFromPrivateKey() error = %v", err)
	}

	if id1 != id2 {
		t.Errorf("PeerIDFromKeyFile() = %s, want %s (same key file)", id1, id2)
	}
}
