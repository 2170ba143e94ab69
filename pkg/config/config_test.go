package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/commatea/emodbus/pkg/decode"
	"github.com/commatea/emodbus/pkg/mib"
	"github.com/commatea/emodbus/pkg/pdu"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeConfig(t, `
transport: tcp
tcp:
  host: 192.168.1.50
  port: 502
policy:
  timeout: 500ms
  retries: 3
slaves:
  - slave_id: 1
    entries:
      - name: Temperature
        address: 1
        function: 4
        rule:
          kind: scale
          factor: 1
          places: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TCP.Host != "192.168.1.50" {
		t.Errorf("host = %s", cfg.TCP.Host)
	}
	if cfg.Policy.Timeout != 500*time.Millisecond || cfg.Policy.Retries != 3 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if len(cfg.Slaves) != 1 || len(cfg.Slaves[0].Entries) != 1 {
		t.Fatalf("slaves = %+v", cfg.Slaves)
	}
	e := cfg.Slaves[0].Entries[0]
	if e.Name != "Temperature" || e.FunctionCode != pdu.ReadInputRegisters {
		t.Errorf("entry = %+v", e)
	}
	if e.Rule == nil || e.Rule.Kind != decode.KindScale || e.Rule.Places != 1 {
		t.Errorf("rule = %+v", e.Rule)
	}
}

func TestLoadExplicitMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for explicit missing path")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestValidateRejectsBadProfile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown transport",
			content: "transport: modbus-udp\n",
		},
		{
			name: "unsupported function code",
			content: `
transport: tcp
tcp:
  host: localhost
slaves:
  - slave_id: 1
    entries:
      - name: Diag
        address: 0
        function: 43
`,
		},
		{
			name: "slave id out of range",
			content: `
transport: tcp
tcp:
  host: localhost
slaves:
  - slave_id: 250
    entries:
      - name: X
        address: 0
        function: 3
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Transport = "rtu"
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Slaves = []SlaveConfig{{
		SlaveID: 2,
		Entries: []mib.Entry{{Name: "Status", Address: 5, FunctionCode: pdu.ReadCoils}},
	}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Transport != "rtu" || loaded.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Slaves) != 1 || loaded.Slaves[0].Entries[0].Name != "Status" {
		t.Errorf("slaves = %+v", loaded.Slaves)
	}
}
