package stream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gfonseca/visage/pkg/config"
)

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	want := config.Default()

	if got.Stream != want.Stream {
		t.Errorf("Stream: got %+v, want %+v", got.Stream, want.Stream)
	}
	if got.Device != want.Device {
		t.Errorf("Device: got %+v, want %+v", got.Device, want.Device)
	}
}
