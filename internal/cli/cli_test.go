package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/agentdeck/internal/auth"
	"github.com/ankittk/agentdeck/internal/config"
	"github.com/ankittk/agentdeck/internal/daemon"
	"github.com/ankittk/agentdeck/internal/orchtest"
	"github.com/ankittk/agentdeck/internal/store"
	"github.com/ankittk/agentdeck/pkg/models"
)

// run executes the root command against a throwaway home and returns stdout.
func run(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--home", home, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"watch", "stop", "status", "tui", "tasks", "move", "agents", "chat", "history", "confirm", "feed", "ledger", "config", "token", "doctor"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	for _, name := range []string{"home", "server", "api-key", "log-level"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Fatalf("expected --%s persistent flag", name)
		}
	}
}

func TestTokenSecret(t *testing.T) {
	out, err := run(t, t.TempDir(), "token", "secret")
	if err != nil {
		t.Fatalf("token secret: %v", err)
	}
	hexKey := regexp.MustCompile(`(?m)^  ([a-f0-9]{64})$`)
	if !hexKey.MatchString(out) {
		t.Errorf("output should contain a 64-char hex key on its own line; got:\n%s", out)
	}
	if !strings.Contains(out, "AGENTDECK_VIEWS_SECRET") {
		t.Errorf("output should mention AGENTDECK_VIEWS_SECRET")
	}
}

func TestTokenMint(t *testing.T) {
	home := t.TempDir()
	if _, err := run(t, home, "token", "mint"); err == nil {
		t.Fatal("token mint without secret: expected error")
	}

	writeConfig(t, home, "views_secret: s3cret\n")
	out, err := run(t, home, "token", "mint", "--subject", "board", "--role", "viewer")
	if err != nil {
		t.Fatalf("token mint: %v", err)
	}
	claims, err := auth.Verify(strings.TrimSpace(out), "s3cret")
	if err != nil {
		t.Fatalf("Verify minted token: %v", err)
	}
	if claims.Subject != "board" || len(claims.Roles) != 1 || claims.Roles[0] != "viewer" {
		t.Fatalf("claims: got %+v", claims)
	}
}

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(config.Path(home), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	home := t.TempDir()
	if _, err := run(t, home, "--server", "http://orch.example:3001", "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "http://orch.example:3001" {
		t.Fatalf("saved server url: got %q", cfg.Server.URL)
	}
	if _, err := run(t, home, "config", "init"); err == nil {
		t.Fatal("second config init: expected error without --force")
	}

	writeConfig(t, home, "server:\n  url: http://orch.example:3001\n  api_key: topsecret\n")
	out, err := run(t, home, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "topsecret") || !strings.Contains(out, "********") {
		t.Fatalf("config show should redact secrets; got:\n%s", out)
	}
}

func TestConfig_invalidFileFails(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "server:\n  url: ftp://nope\n")
	if _, err := run(t, home, "status"); err == nil {
		t.Fatal("invalid config: expected error")
	}
}

func TestStatus_notWatching(t *testing.T) {
	out, err := run(t, t.TempDir(), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "agentdeck not watching") {
		t.Fatalf("status: got %q", out)
	}
	out, err = run(t, t.TempDir(), "stop")
	if err != nil || !strings.Contains(out, "not watching") {
		t.Fatalf("stop: got %q, %v", out, err)
	}
}

func TestStatus_watching(t *testing.T) {
	srv := orchtest.New(t)
	home := t.TempDir()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := config.Default()
	cfg.Server.URL = srv.URL
	cfg.Ledger.Backend = store.BackendMemory
	cfg.Listen = addr
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- daemon.StartForeground(ctx, daemon.StartOptions{Home: home, Config: cfg, PollInterval: -1})
	}()
	defer func() {
		cancel()
		<-done
	}()

	var out string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out, err = run(t, home, "status")
		if err == nil && strings.Contains(out, "stream: connected") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(out, "agentdeck watching (pid") || !strings.Contains(out, "stream: connected") {
		t.Fatalf("status: got %q, %v", out, err)
	}
	if !strings.Contains(out, "agents: 1") || !strings.Contains(out, "tasks: 1") {
		t.Fatalf("status counts: got %q", out)
	}

	out, err = run(t, home, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var got struct {
		Watching bool   `json:"watching"`
		Addr     string `json:"addr"`
		Session  struct {
			Connection string `json:"connection"`
		} `json:"session"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("status --json: %v (%q)", err, out)
	}
	if !got.Watching || got.Addr != addr || got.Session.Connection != "connected" {
		t.Fatalf("status --json: got %+v", got)
	}
}

func TestDoctor(t *testing.T) {
	srv := orchtest.New(t)
	out, err := run(t, t.TempDir(), "--server", srv.URL, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	if !strings.Contains(out, "server: "+srv.URL+" ok") || !strings.HasSuffix(strings.TrimSpace(out), "ok") {
		t.Fatalf("doctor: got %q", out)
	}

	if _, err := run(t, t.TempDir(), "--server", "http://127.0.0.1:1", "doctor"); err == nil {
		t.Fatal("doctor against a dead server: expected error")
	}
}

func TestTasks(t *testing.T) {
	srv := orchtest.New(t)
	out, err := run(t, t.TempDir(), "--server", srv.URL, "tasks")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	for _, want := range []string{"Landing page", "To Do", "0/1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("tasks: missing %q in\n%s", want, out)
		}
	}

	out, err = run(t, t.TempDir(), "--server", srv.URL, "tasks", "--status", "completed", "--json")
	if err != nil {
		t.Fatalf("tasks --json: %v", err)
	}
	var tasks []models.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(tasks) != 0 {
		t.Fatalf("done tasks: got %d, want 0", len(tasks))
	}

	if _, err := run(t, t.TempDir(), "--server", srv.URL, "tasks", "--status", "someday"); err == nil {
		t.Fatal("tasks with unknown status: expected error")
	}
}

func TestAgents(t *testing.T) {
	srv := orchtest.New(t)
	out, err := run(t, t.TempDir(), "--server", srv.URL, "agents")
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	if !strings.Contains(out, "Ada") || !strings.Contains(out, "a1") {
		t.Fatalf("agents: got\n%s", out)
	}
}

func TestMove(t *testing.T) {
	srv := orchtest.New(t)
	out, err := run(t, t.TempDir(), "--server", srv.URL, "move", "t1", "completed")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !strings.Contains(out, `Moved "Landing page" to Done`) {
		t.Fatalf("move: got %q", out)
	}
	ups := srv.Updates()
	if len(ups) != 1 || ups[0].Status == nil || *ups[0].Status != "done" {
		t.Fatalf("server updates: got %+v", ups)
	}
}

func TestMove_overridden(t *testing.T) {
	srv := orchtest.New(t)
	srv.MapStatus("done", "review")
	out, err := run(t, t.TempDir(), "--server", srv.URL, "move", "t1", "done")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !strings.Contains(out, `Server kept "Landing page" in Review`) {
		t.Fatalf("move: got %q", out)
	}
}

func TestMove_failures(t *testing.T) {
	srv := orchtest.New(t)
	if _, err := run(t, t.TempDir(), "--server", srv.URL, "move", "t1", "someday"); err == nil {
		t.Fatal("move to unknown status: expected error")
	}
	srv.FailTaskUpdates(500)
	if _, err := run(t, t.TempDir(), "--server", srv.URL, "move", "t1", "review"); err == nil {
		t.Fatal("move rejected by server: expected error")
	}
}

func TestChat(t *testing.T) {
	srv := orchtest.New(t)
	out, err := run(t, t.TempDir(), "--server", srv.URL, "chat", "a1", "ship", "it", "--task", "t1")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if strings.TrimSpace(out) != "Sent" {
		t.Fatalf("chat: got %q", out)
	}
	chats := srv.Chats()
	if len(chats) != 1 || chats[0].Message != "ship it" || chats[0].TaskID == nil || *chats[0].TaskID != "t1" {
		t.Fatalf("server chats: got %+v", chats)
	}

	srv.FailChats(502)
	if _, err := run(t, t.TempDir(), "--server", srv.URL, "chat", "a1", "again"); err == nil {
		t.Fatal("chat rejected by server: expected error")
	}
}

func TestHistory(t *testing.T) {
	srv := orchtest.New(t)
	srv.SetHistory("a1",
		models.WireHistoryEntry{ID: "h1", FromID: "user", ToID: "a1", Content: json.RawMessage(`"hello"`)},
		models.WireHistoryEntry{ID: "h2", FromID: "a1", ToID: "user", Content: json.RawMessage(`"hi there"`)},
	)
	out, err := run(t, t.TempDir(), "--server", srv.URL, "history", "a1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "you: hello") || !strings.Contains(out, "Ada: hi there") {
		t.Fatalf("history: got\n%s", out)
	}
}

func TestConfirm(t *testing.T) {
	srv := orchtest.New(t)
	if _, err := run(t, t.TempDir(), "--server", srv.URL, "confirm", "a1"); err == nil {
		t.Fatal("confirm without a selection: expected error")
	}

	srv.SetHistory("a1", models.WireHistoryEntry{
		ID: "h1", FromID: "a1", ToID: "user",
		Content: json.RawMessage(`{"text":"Which features?","interactive":{"type":"selection_list","items":[` +
			`{"id":"login","label":"Login"},{"id":"search","label":"Search"},{"id":"export","label":"Export"}]}}`),
	})
	out, err := run(t, t.TempDir(), "--server", srv.URL, "confirm", "a1", "--select", "login,search", "--note", "search=fuzzy")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	want := "Confirmed:\n- Login\n- Search (fuzzy)"
	if strings.TrimSpace(out) != want {
		t.Fatalf("confirm output: got %q, want %q", out, want)
	}
	chats := srv.Chats()
	if len(chats) != 1 || chats[0].Message != want {
		t.Fatalf("server chats: got %+v", chats)
	}

	if _, err := run(t, t.TempDir(), "--server", srv.URL, "confirm", "a1", "--select", "ghost"); err == nil {
		t.Fatal("confirm unknown item: expected error")
	}
}

func TestLedger_exportAndClear(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "ledger:\n  backend: file\n")
	slot := filepath.Join(home, "protected", "slots")
	if err := os.MkdirAll(slot, 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, home, "ledger", "export")
	if err != nil {
		t.Fatalf("ledger export: %v", err)
	}
	if strings.TrimSpace(out) != "[]" && strings.TrimSpace(out) != "null" {
		t.Fatalf("empty export: got %q", out)
	}
	out, err = run(t, home, "ledger", "clear")
	if err != nil || strings.TrimSpace(out) != "Cleared" {
		t.Fatalf("ledger clear: got %q, %v", out, err)
	}
	out, err = run(t, home, "feed")
	if err != nil || strings.TrimSpace(out) != "" {
		t.Fatalf("feed after clear: got %q, %v", out, err)
	}
}
