package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

type sample struct {
	Name    string  `json:"Name" yaml:"name"`
	BaseMVA float64 `json:"BaseMVA" yaml:"base_mva"`
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	var s sample
	assert.NilError(t, Load(write(t, "system.json", `{"Name": "ieee14", "BaseMVA": 100}`), &s))
	assert.Equal(t, s.Name, "ieee14")
	assert.Equal(t, s.BaseMVA, 100.0)
}

func TestLoadYAML(t *testing.T) {
	var s sample
	assert.NilError(t, Load(write(t, "system.yml", "name: pjm5\nbase_mva: 250\n"), &s))
	assert.Equal(t, s.Name, "pjm5")
	assert.Equal(t, s.BaseMVA, 250.0)
}

func TestLoadErrors(t *testing.T) {
	var s sample
	assert.ErrorContains(t, Load(write(t, "bad.json", `{"Name": `), &s), "config: json")
	assert.ErrorContains(t, Load(write(t, "bad.yaml", "name: [unterminated"), &s), "config: yaml")
	assert.Assert(t, os.IsNotExist(Load(filepath.Join(t.TempDir(), "missing.json"), &s)))
}
