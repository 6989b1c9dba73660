package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "devsync.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFileThenEnv(t *testing.T) {
	p := writeFile(t, "deviceAddr: 192.168.42.1:21\nlocalDir: /tmp/mirror\ndialTimeout: 2s\nquotaPercent: 30\n")
	t.Setenv("DEVSYNC_QUOTA_PERCENT", "40")
	t.Setenv("DEVSYNC_API_TOKEN", "tok")

	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.DeviceAddr != "192.168.42.1:21" || c.LocalDir != "/tmp/mirror" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.DialTimeout != 2*time.Second {
		t.Fatalf("dial timeout = %v", c.DialTimeout)
	}
	if c.QuotaPercent != 40 || c.APIToken != "tok" {
		t.Fatalf("env overlay not applied: %+v", c)
	}
	if c.MediaRoot != "internal_000" || c.HTTPAddr != ":8080" {
		t.Fatalf("defaults lost: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.QuotaPercent != 20 || c.History != HistoryMemory {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, "deviceAddr: x\nbogus: 1\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected strict unmarshal error")
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DEVSYNC_DEVICE_ADDR") {
		t.Fatalf("missing device addr: %v", err)
	}
	c.DeviceAddr = "d:21"
	c.LocalDir = "/x"
	c.QuotaPercent = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected quota error")
	}
	c.QuotaPercent = 20
	c.History = "sqlite"
	if err := c.Validate(); err == nil {
		t.Fatal("expected history error")
	}
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv("DEVSYNC_CONFIG_FILE", "/etc/devsync.yaml")
	if got := DefaultPath(); got != "/etc/devsync.yaml" {
		t.Fatalf("path = %q", got)
	}
}
