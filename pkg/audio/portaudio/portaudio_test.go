package portaudio

import (
	"slices"
	"testing"
)

func TestCandidateRates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		requested int
		native    float64
		want      []int
	}{
		{"falls back to 48 kHz", 16000, 48000, []int{16000, 48000}},
		{"falls back to 44.1 kHz", 16000, 44100, []int{16000, 44100}},
		{"native equals requested", 16000, 16000, []int{16000}},
		{"fractional native rate", 16000, 44099.6, []int{16000, 44100}},
		{"unknown native rate", 16000, 0, []int{16000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := candidateRates(tt.requested, tt.native); !slices.Equal(got, tt.want) {
				t.Errorf("candidateRates(%d, %v) = %v, want %v", tt.requested, tt.native, got, tt.want)
			}
		})
	}
}

func TestDeviceLabel(t *testing.T) {
	t.Parallel()
	if got := deviceLabel(""); got != "default" {
		t.Errorf("deviceLabel(\"\") = %q, want default", got)
	}
	if got := deviceLabel("USB Mic"); got != "USB Mic" {
		t.Errorf("deviceLabel(\"USB Mic\") = %q, want USB Mic", got)
	}
}
