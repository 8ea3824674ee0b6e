package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.ObserveAction("dir", "install", "success")
	m.IncSalvaged()
	m.ObserveApply(1)
}

func TestPromTextfile(t *testing.T) {
	m := NewProm("pkgdeliver")
	m.ObserveAction("dir", "install", "success")
	m.ObserveAction("dir", "install", "success")
	m.ObserveAction("file", "remove", "failure")
	m.IncSalvaged()
	m.ObserveApply(0.2)

	path := filepath.Join(t.TempDir(), "pkgdeliver.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`pkgdeliver_actions_total{op="install",outcome="success",type="dir"} 2`,
		`pkgdeliver_actions_total{op="remove",outcome="failure",type="file"} 1`,
		`pkgdeliver_salvaged_total 1`,
		`pkgdeliver_apply_duration_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestNewPromIndependentRegistries(t *testing.T) {
	a, b := NewProm("x"), NewProm("x")
	if a.Registry == b.Registry {
		t.Error("NewProm shared a registry")
	}
}
