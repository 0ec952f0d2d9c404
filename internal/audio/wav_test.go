package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := make([]byte, 320)
	out, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	if len(out) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q %q", out[0:4], out[8:12])
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", rate)
	}
	if size := binary.LittleEndian.Uint32(out[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
}

func TestEncodeWAVPCM16LEDefaultsSampleRate(t *testing.T) {
	out, err := EncodeWAVPCM16LE(nil, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 24000 {
		t.Fatalf("sample rate = %d, want default 24000", rate)
	}
}
