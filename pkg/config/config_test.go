package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir, err := ioutil.TempDir("", "kmon-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	os.Setenv("KMON_HOME", dir)
	defer os.Unsetenv("KMON_HOME")

	conf := LoadConfig()
	if conf == nil {
		t.Fatal("LoadConfig returned nil")
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yml")); err != nil {
		t.Errorf("default config file not created: %v", err)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "kmon-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	os.Setenv("KMON_HOME", dir)
	defer os.Unsetenv("KMON_HOME")

	depth := 32
	if err := SaveConfig(&Config{
		Aliases:       map[string][]string{"backtrace": {"where"}},
		MaxStackDepth: &depth,
	}); err != nil {
		t.Fatal(err)
	}

	conf := LoadConfig()
	if got := conf.Aliases["backtrace"]; len(got) != 1 || got[0] != "where" {
		t.Errorf("aliases = %v", conf.Aliases)
	}
	if conf.MaxStackDepth == nil || *conf.MaxStackDepth != 32 {
		t.Errorf("max stack depth = %v", conf.MaxStackDepth)
	}
}
