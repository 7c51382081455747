package version

import (
	"strings"
	"testing"
)

func TestShort(t *testing.T) {
	if Short() == "" {
		t.Error("Short() should never be empty")
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	for _, want := range []string{"pycfg", "Commit:", "Go:"} {
		if !strings.Contains(info, want) {
			t.Errorf("Info() missing %q: %s", want, info)
		}
	}
}
