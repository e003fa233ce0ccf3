package watch

import "testing"

func TestFilterPass(t *testing.T) {
	f := DefaultFilter("engine.toml", ".rs", ".zig")
	cases := []struct {
		path string
		want bool
	}{
		{"/proj/src/lib.rs", true},
		{"/proj/src/dsp/filter.zig", true},
		{"/proj/engine.toml", true},
		{"/proj/src/.lib.rs.swp", false},
		{"/proj/src/lib.rs~", false},
		{"/proj/src/.#lib.rs", false},
		{"/proj/src/#lib.rs#", false},
		{"/proj/src/.hidden.rs", false},
		{"/proj/target/debug/lib.rs", false},
		{"/proj/build/lib.rs", false},
		{"/proj/.git/config", false},
		{"/proj/README.md", false},
		{"/proj/src/notes.txt", false},
	}
	for _, c := range cases {
		if got := f.Pass(c.path); got != c.want {
			t.Errorf("Pass(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestFilterManifestInIgnoredDirRejected(t *testing.T) {
	f := DefaultFilter("engine.toml", ".rs")
	if f.Pass("/proj/target/engine.toml") {
		t.Error("manifest copy inside build output should not trigger")
	}
}

func TestWatchDir(t *testing.T) {
	f := DefaultFilter("engine.toml", ".rs")
	cases := []struct {
		dir  string
		want bool
	}{
		{"/proj/src", true},
		{"/proj/src/dsp", true},
		{"/proj/target", false},
		{"/proj/.git", false},
		{".", true},
	}
	for _, c := range cases {
		if got := f.WatchDir(c.dir); got != c.want {
			t.Errorf("WatchDir(%q) = %v, want %v", c.dir, got, c.want)
		}
	}
}
