package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bbs/internal/config"
	"bbs/internal/realtime"
	"bbs/internal/session"
	"bbs/internal/store"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestCredential(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "id.pub")
	require.NoError(t, os.WriteFile(keyFile, ssh.MarshalAuthorizedKey(sshPub), 0o600))

	tests := []struct {
		name     string
		cfg      config.Config
		wantFP   string
		wantType string
	}{
		{"env fingerprint", config.Config{PubkeySHA256: "SHA256:abc", PubkeyType: "ssh-ed25519"}, "SHA256:abc", "ed25519"},
		{"key file", config.Config{PubkeyFile: keyFile}, ssh.FingerprintSHA256(sshPub), "ed25519"},
		{"dev fallback", config.Config{}, "dev-local", "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := credential(tt.cfg)
			require.NoError(t, err)
			if got.Fingerprint != tt.wantFP || got.KeyType != tt.wantType {
				t.Errorf("credential() = %+v, want %s/%s", got, tt.wantFP, tt.wantType)
			}
		})
	}

	if _, err := credential(config.Config{PubkeyFile: filepath.Join(t.TempDir(), "missing.pub")}); err == nil {
		t.Error("credential() with missing key file should fail")
	}
}

func TestMemoryNotifySource(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = config.MemoryURL
	cfg.NotifyBackend = config.BackendMemory

	be, err := openBackend(cfg)
	require.NoError(t, err)
	defer be.close()

	u, err := be.store.InsertUser(context.Background(), "SHA256:a", "ed25519", "alice")
	require.NoError(t, err)
	sub, closeSub := notifySource(cfg, be, session.New(cfg, be.store, u))
	defer closeSub()

	s, err := sub.Subscribe(context.Background())
	require.NoError(t, err)
	defer s.Close()

	room, err := store.EnsureRoom(context.Background(), be.store, "lobby", u.ID)
	require.NoError(t, err)
	msg, err := be.store.InsertMessage(context.Background(), room.ID, u.ID, "hi", 10)
	require.NoError(t, err)

	raw, err := s.Receive(context.Background())
	require.NoError(t, err)
	ev, ok := realtime.ParsePayload(raw)
	if !ok || ev.ID != msg.ID {
		t.Errorf("ParsePayload() = %+v, %v, want id %d", ev, ok, msg.ID)
	}
}

func TestMigrateRejectsMemoryStore(t *testing.T) {
	t.Setenv("DATABASE_URL", config.MemoryURL)
	t.Setenv("BBS_LOG_FILE", filepath.Join(t.TempDir(), "bbs.log"))
	configPath = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"migrate"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "memory store") {
		t.Errorf("migrate error = %v, want memory store error", err)
	}
}

func TestPruneMemoryStore(t *testing.T) {
	t.Setenv("DATABASE_URL", config.MemoryURL)
	t.Setenv("BBS_LOG_FILE", filepath.Join(t.TempDir(), "bbs.log"))
	configPath = ""
	pruneEvery = 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"prune"})
	require.NoError(t, rootCmd.Execute())
	if !strings.Contains(out.String(), "pruned 0 messages") {
		t.Errorf("prune output = %q", out.String())
	}
}
