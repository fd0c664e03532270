package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestRemotesRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	in := RemotesConfig{
		Active: "prod",
		Remotes: map[string]Remote{
			"prod":  {URL: "https://graph.example.com", GRPCAddr: "graph.example.com:9090", Token: "tok_abc", NATSURL: "nats://prod:4222"},
			"local": {URL: "http://localhost:8080"},
		},
	}
	if err := saveRemotes(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loadRemotes()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Active != "prod" || got.Remotes["prod"] != in.Remotes["prod"] {
		t.Errorf("loaded %+v", got)
	}
}

func TestLoadRemotes_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadRemotes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Active != "" || cfg.Remotes == nil || len(cfg.Remotes) != 0 {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestSaveRemotes_Permissions(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := saveRemotes(RemotesConfig{Remotes: map[string]Remote{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	path, _ := remotesPath()
	for p, want := range map[string]os.FileMode{path: 0o600, filepath.Dir(path): 0o700} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%s permissions = %04o, want %04o", p, got, want)
		}
	}
}

func TestRemoteLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var buf bytes.Buffer
	for _, c := range []*cobra.Command{remoteAddCmd, remoteUseCmd, remoteListCmd, remoteShowCmd, remoteRemoveCmd} {
		c.SetOut(&buf)
	}
	mustRun := func(c *cobra.Command, args ...string) string {
		t.Helper()
		buf.Reset()
		if err := c.RunE(c, args); err != nil {
			t.Fatalf("%s %v: %v", c.Name(), args, err)
		}
		return buf.String()
	}

	if err := remoteAddCmd.Flags().Set("token", "tok_verylongsecret"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = remoteAddCmd.Flags().Set("token", "") })

	mustRun(remoteAddCmd, "dev", "http://localhost:8080")
	mustRun(remoteAddCmd, "dev", "http://localhost:8081") // upsert
	mustRun(remoteUseCmd, "dev")

	if out := mustRun(remoteListCmd); !strings.Contains(out, "* dev") || !strings.Contains(out, "tok_very...") {
		t.Errorf("list output:\n%s", out)
	}
	out := mustRun(remoteShowCmd)
	if !strings.Contains(out, "localhost:8081") || !strings.Contains(out, "(active)") {
		t.Errorf("show output:\n%s", out)
	}
	if strings.Contains(out, "tok_verylongsecret") {
		t.Error("full token must not appear in show output")
	}

	mustRun(remoteRemoveCmd, "dev")
	cfg, _ := loadRemotes()
	if _, ok := cfg.Remotes["dev"]; ok || cfg.Active != "" {
		t.Errorf("after remove: %+v", cfg)
	}
}

func TestRemoteErrors(t *testing.T) {
	for name, fn := range map[string]func() error{
		"use unknown":    func() error { return remoteUseCmd.RunE(remoteUseCmd, []string{"ghost"}) },
		"remove unknown": func() error { return remoteRemoveCmd.RunE(remoteRemoveCmd, []string{"ghost"}) },
		"show no active": func() error { return remoteShowCmd.RunE(remoteShowCmd, nil) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			if err := fn(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestMaskToken(t *testing.T) {
	for _, tc := range []struct{ tok, fill, want string }{
		{"short", "...", "short"},
		{"tok_verylongsecret", "...", "tok_very..."},
		{"tok_verylong", "*", "tok_very****"},
	} {
		if got := maskToken(tc.tok, tc.fill); got != tc.want {
			t.Errorf("maskToken(%q, %q) = %q, want %q", tc.tok, tc.fill, got, tc.want)
		}
	}
}
