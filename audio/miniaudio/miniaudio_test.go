package miniaudio

import "testing"

func TestEffectiveRate(t *testing.T) {
	if got := effectiveRate(48000, 48000); got != 48000 {
		t.Errorf("matching rates: got %d", got)
	}
	if got := effectiveRate(48000, 44100); got != 44100 {
		t.Errorf("native fallback must win: got %d, want 44100", got)
	}
	if got := effectiveRate(48000, 0); got != 48000 {
		t.Errorf("unreported device rate keeps the request: got %d", got)
	}
}
