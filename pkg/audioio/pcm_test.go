package audioio

import "testing"

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       int
		from, to int
		wantLen  int
	}{
		{"same rate", 5, 16000, 16000, 5},
		{"48k to 16k", 960, 48000, 16000, 320},
		{"24k to 16k", 480, 24000, 16000, 320},
		{"8k to 16k", 160, 8000, 16000, 320},
		{"empty", 0, 48000, 16000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.in)
			for i := range samples {
				samples[i] = int16(i)
			}
			if got := len(Resample(samples, tt.from, tt.to)); got != tt.wantLen {
				t.Errorf("len = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	out := Resample([]int16{0, 100, 200, 300}, 8000, 16000)
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestPCMConversion(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := SamplesToBytes(samples)
	if len(data) != 10 {
		t.Fatalf("len = %d", len(data))
	}
	if data[4] != 0xff || data[5] != 0xff {
		t.Errorf("-1 encoded as %x %x", data[4], data[5])
	}
	back := BytesToSamples(data)
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}

	if got := BytesToSamples([]byte{1, 0, 7}); len(got) != 1 || got[0] != 1 {
		t.Errorf("odd trailing byte: %v", got)
	}
}

func TestStereoToMono(t *testing.T) {
	got := StereoToMono([]int16{100, 200, -50, 50})
	if len(got) != 2 || got[0] != 150 || got[1] != 0 {
		t.Errorf("StereoToMono = %v", got)
	}
}

func TestLevel(t *testing.T) {
	if Level(nil) != 0 {
		t.Error("empty level should be 0")
	}
	if Level(make([]int16, 10)) != 0 {
		t.Error("silence level should be 0")
	}
	if l := Level([]int16{32767, -32767}); l < 0.99 || l > 1.01 {
		t.Errorf("full scale level = %f", l)
	}
}

func TestChunkMono16k(t *testing.T) {
	c := AudioChunk{Samples: make([]int16, 480*2), SampleRate: 48000, Channels: 2}
	if got := len(c.Mono16k()); got != 160*2 {
		t.Errorf("Mono16k bytes = %d, want 320", got)
	}
	if c.Duration() != 0.01 {
		t.Errorf("Duration = %f", c.Duration())
	}
}
