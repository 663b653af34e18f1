package audio

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrConversionFailed  = errors.New("audio conversion failed")
	ErrEmptyInput        = errors.New("empty audio payload")
	ErrMissingFilename   = errors.New("missing filename")
	ErrTooLarge          = errors.New("audio payload too large")
)

// Format is a container tag derived from a file extension or sniffed content.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatM4A     Format = "m4a"
	FormatFLAC    Format = "flac"
	FormatWebM    Format = "webm"
)

const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16
)

var extensionFormats = map[string]Format{
	"wav":  FormatWAV,
	"wave": FormatWAV,
	"mp3":  FormatMP3,
	"ogg":  FormatOGG,
	"oga":  FormatOGG,
	"m4a":  FormatM4A,
	"flac": FormatFLAC,
	"webm": FormatWebM,
}

// ParseFormat maps a configured name ("wav", "mp3", ...) to a Format.
func ParseFormat(name string) Format {
	return extensionFormats[strings.ToLower(strings.TrimSpace(name))]
}

// FormatFromFilename returns the format implied by the extension.
func FormatFromFilename(name string) Format {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ParseFormat(ext)
}

// Sniff identifies the container from its leading magic bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return FormatOGG
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return FormatFLAC
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	}
	return FormatUnknown
}

// Clip is an uploaded audio payload.
type Clip struct {
	Filename   string
	Format     Format
	Data       []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Normalized is a clip in canonical form (16 kHz mono 16-bit PCM WAV),
// backed by a copy on disk inside its request workspace.
type Normalized struct {
	Clip
	SourceFormat Format
	Path         string
	workspace    *Workspace
}

// Release removes the request workspace. Safe to call more than once.
func (n *Normalized) Release() error {
	if n == nil || n.workspace == nil {
		return nil
	}
	return n.workspace.Release()
}

