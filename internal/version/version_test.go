package version

import "testing"

func TestGet_NeverEmptyBasics(t *testing.T) {
	vi := Get()

	if vi.AppName != AppName {
		t.Errorf("AppName = %q, want %q", vi.AppName, AppName)
	}
	if vi.Version == "" {
		t.Error("Version should default to a non-empty string")
	}
	if vi.GoVersion == "" {
		t.Error("GoVersion should be filled from build info under the test binary")
	}
}
