package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/agentdeck")
	if got := MustHomeFrom(ctx); got != "/agentdeck" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("AGENTDECK_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("AGENTDECK_HOME", "")
	// Override empty so we use UserHomeDir
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".agentdeck")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestResolveHome_expandsTildeAndRelative(t *testing.T) {
	user := t.TempDir()
	t.Setenv("HOME", user)
	t.Setenv("AGENTDECK_HOME", "~/deck")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if want := filepath.Join(user, "deck"); got != want {
		t.Fatalf("ResolveHome ~: got %q, want %q", got, want)
	}

	got, err = ResolveHome("rel/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if !filepath.IsAbs(got) || !strings.HasSuffix(got, filepath.Join("rel", "home")) {
		t.Fatalf("ResolveHome relative: got %q", got)
	}
}

func TestLoad_missingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Ledger.Capacity != 100 || c.Ledger.Backend != "sqlite" {
		t.Fatalf("defaults: got %+v", c.Ledger)
	}
}

func TestSave_Load_roundTrip(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	c := Default()
	c.Server.URL = "https://hq.example.com"
	c.Server.APIKey = "k1"
	c.NoticeTTL = 8 * time.Second
	if err := c.Save(home); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(Path(home))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode: got %v", info.Mode().Perm())
	}
	got, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Server.URL != c.Server.URL || got.Server.APIKey != "k1" || got.NoticeTTL != 8*time.Second {
		t.Fatalf("round trip: got %+v", got)
	}
}

func TestFromYAML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{name: "empty", in: ""},
		{name: "durations", in: "request_timeout: 3s\nnotice_ttl: 1m\n"},
		{name: "unknown field", in: "bogus: 1\n", wantErr: "parse config.yaml"},
		{name: "bad url", in: "server:\n  url: localhost\n", wantErr: "server.url"},
		{name: "bad stream url", in: "server:\n  stream_url: http://x\n", wantErr: "stream_url"},
		{name: "bad backend", in: "ledger:\n  backend: redis\n", wantErr: "ledger.backend"},
		{name: "bad capacity", in: "ledger:\n  capacity: 0\n", wantErr: "capacity"},
		{name: "bad level", in: "log_level: loud\n", wantErr: "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := FromYAML([]byte(tt.in))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("FromYAML: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("FromYAML: got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	c := Default()
	c.Server.URL = "https://hq.example.com/base/"
	if got := c.StreamURL(); got != "wss://hq.example.com/base/ws" {
		t.Fatalf("StreamURL: got %q", got)
	}
	c.Server.StreamURL = "ws://other:9000/events"
	if got := c.StreamURL(); got != "ws://other:9000/events" {
		t.Fatalf("StreamURL explicit: got %q", got)
	}
}

func TestOverlay_env(t *testing.T) {
	t.Setenv("AGENTDECK_SERVER_URL", "http://env:3001")
	t.Setenv("AGENTDECK_SERVER_API_KEY", "from-env")
	t.Setenv("AGENTDECK_LEDGER_CAPACITY", "25")
	t.Setenv("AGENTDECK_REQUEST_TIMEOUT", "2s")
	c := Default()
	if err := c.Overlay(NewViper()); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if c.Server.URL != "http://env:3001" || c.Server.APIKey != "from-env" {
		t.Fatalf("server: got %+v", c.Server)
	}
	if c.Ledger.Capacity != 25 || c.RequestTimeout != 2*time.Second {
		t.Fatalf("overlay: capacity %d timeout %v", c.Ledger.Capacity, c.RequestTimeout)
	}
	if c.Listen != Default().Listen {
		t.Fatalf("unset key changed: got %q", c.Listen)
	}
}

func TestOverlay_invalid(t *testing.T) {
	t.Setenv("AGENTDECK_LEDGER_BACKEND", "redis")
	if err := Default().Overlay(NewViper()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWithConfig_FromContext(t *testing.T) {
	t.Parallel()
	if got := FromContext(context.Background()); got.Listen != Default().Listen {
		t.Fatalf("FromContext default: got %+v", got)
	}
	c := Default()
	c.Listen = ":9999"
	if got := FromContext(WithConfig(context.Background(), c)); got != c {
		t.Fatal("FromContext: got a different config")
	}
}
