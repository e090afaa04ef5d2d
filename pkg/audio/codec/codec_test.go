package codec_test

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/parlodev/parlo/pkg/audio"
	"github.com/parlodev/parlo/pkg/audio/codec"
)

func TestEncodeDecode_RoundTripExact(t *testing.T) {
	t.Parallel()

	// Start from PCM16-representable samples so the round trip is exact.
	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x34, 0x12, 0xcc, 0xed}
	frame := audio.Frame{Samples: audio.DequantizePCM16(pcm), SampleRate: audio.SampleRate}

	got, err := codec.Decode(codec.Encode(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Samples) != len(frame.Samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got.Samples), len(frame.Samples))
	}
	for i := range frame.Samples {
		if got.Samples[i] != frame.Samples[i] {
			t.Errorf("sample %d: got %v, want %v", i, got.Samples[i], frame.Samples[i])
		}
	}
	if got.SampleRate != audio.SampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, audio.SampleRate)
	}
}

func TestEncode_EmptyFrame(t *testing.T) {
	t.Parallel()

	chunk := codec.Encode(audio.Frame{})
	got, err := codec.Decode(chunk)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Samples) != 0 {
		t.Errorf("expected no samples, got %d", len(got.Samples))
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	t.Parallel()

	_, err := codec.Decode("!!! not base64 !!!")
	if !errors.Is(err, codec.ErrMalformedChunk) {
		t.Fatalf("err = %v, want ErrMalformedChunk", err)
	}
}

func TestDecode_OddByteLength(t *testing.T) {
	t.Parallel()

	chunk := codec.Chunk(base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03}))
	_, err := codec.Decode(chunk)
	if !errors.Is(err, codec.ErrMalformedChunk) {
		t.Fatalf("err = %v, want ErrMalformedChunk", err)
	}
}

func TestDecode_WireFormatIsLittleEndianPCM16(t *testing.T) {
	t.Parallel()

	// 0x7fff little-endian is full-scale positive.
	chunk := codec.Chunk(base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f}))
	got, err := codec.Decode(chunk)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Samples[0] != 1.0 {
		t.Errorf("full-scale sample = %v, want 1.0", got.Samples[0])
	}
}
