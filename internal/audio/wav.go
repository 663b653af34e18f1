package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// PCM holds decoded interleaved samples.
type PCM struct {
	Samples    []int
	SampleRate int
	Channels   int
	BitDepth   int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// DecodeWAV reads a PCM WAV file.
func DecodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid wav file")
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return PCM{}, fmt.Errorf("wav encoding %d is not pcm", dec.WavAudioFormat)
	}
	if err := checkHeader(int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth)); err != nil {
		return PCM{}, err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("read wav samples: %w", err)
	}
	return PCM{
		Samples:    buf.Data,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}, nil
}

func checkHeader(sampleRate, channels, bitDepth int) error {
	switch {
	case sampleRate <= 0:
		return fmt.Errorf("wav header declares sample rate %d", sampleRate)
	case channels <= 0:
		return fmt.Errorf("wav header declares %d channels", channels)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
		return nil
	}
	return fmt.Errorf("wav header declares unsupported bit depth %d", bitDepth)
}

// IsCanonical reports whether data is already 16 kHz mono 16-bit PCM WAV.
func IsCanonical(data []byte) bool {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return false
	}
	return dec.WavAudioFormat == wavFormatPCM &&
		int(dec.SampleRate) == CanonicalSampleRate &&
		int(dec.NumChans) == CanonicalChannels &&
		int(dec.BitDepth) == CanonicalBitDepth
}

// EncodeWAV writes 16-bit samples into a WAV container.
func EncodeWAV(samples []int, sampleRate, channels int) ([]byte, error) {
	out := &memWriteSeeker{}
	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// PCM16ToSamples converts little-endian 16-bit PCM to samples.
func PCM16ToSamples(pcm []byte) ([]int, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples, nil
}

// SamplesToPCM16 converts samples to little-endian 16-bit PCM.
func SamplesToPCM16(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(s))))
	}
	return out
}

// ToCanonicalPCM downmixes, rescales and resamples decoded audio.
func ToCanonicalPCM(in PCM) PCM {
	mono := downmix(to16Bit(in.Samples, in.BitDepth), in.Channels)
	return PCM{
		Samples:    resample(mono, in.SampleRate, CanonicalSampleRate),
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
		BitDepth:   CanonicalBitDepth,
	}
}

func to16Bit(samples []int, bitDepth int) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		switch bitDepth {
		case 8:
			out[i] = (s - 128) << 8
		case 24:
			out[i] = s >> 8
		case 32:
			out[i] = s >> 16
		default:
			out[i] = s
		}
	}
	return out
}

func downmix(samples []int, channels int) []int {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[f*channels+c]
		}
		out[f] = sum / channels
	}
	return out
}

// resample uses linear interpolation; quality is adequate for speech models.
func resample(samples []int, from, to int) []int {
	if from == to || from <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = clamp16(int(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac))
	}
	return out
}

func clamp16(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// memWriteSeeker is the in-memory io.WriteSeeker the wav encoder needs to
// patch its header sizes after writing samples.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, end*2)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}

func (m *memWriteSeeker) Bytes() []byte { return m.buf }
