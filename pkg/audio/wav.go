package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero/mem"
)

// wavPCMFormat is the WAVE format tag for integer PCM.
const wavPCMFormat = 1

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a readable
// 16-bit PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// WriteWAV writes mono 16-bit PCM as a RIFF/WAVE stream to w.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, wavPCMFormat)
	samples := make([]int, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	return nil
}

// EncodeWAV returns mono 16-bit PCM wrapped in a RIFF/WAVE container, as
// expected by file-based transcription APIs.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	f := mem.NewFileHandle(mem.CreateFile("utterance.wav"))
	if err := WriteWAV(f, pcm, sampleRate); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("audio: rewind wav buffer: %w", err)
	}
	return io.ReadAll(f)
}

// DecodeWAV reads a 16-bit PCM WAV stream and returns its interleaved samples
// as little-endian bytes together with the stream format.
func DecodeWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("%w: %d-bit samples, want 16", ErrInvalidWAV, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*BytesPerSample)
	for i, s := range buf.Data {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm, Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}, nil
}
