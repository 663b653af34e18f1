package tts

import (
	"encoding/base64"
	"strings"
	"testing"
)

func frame(pcm string, final bool) string {
	f := `{"pcm_base64":"` + base64.StdEncoding.EncodeToString([]byte(pcm)) + `"`
	if final {
		f += `,"final":true`
	}
	return f + "}\n"
}

func TestDecodeFramesStopsAtFinal(t *testing.T) {
	stream := frame("ab", false) + "\n" + frame("cd", true) + frame("ignored", false)
	var got []string
	err := decodeFrames(strings.NewReader(stream), func(pcm []byte, seq int, final bool) bool {
		got = append(got, string(pcm))
		if seq == 1 && !final {
			t.Errorf("expected second frame to be final")
		}
		return true
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(got, ",") != "ab,cd" {
		t.Fatalf("unexpected frames %v", got)
	}
}

func TestDecodeFramesSurfacesModelError(t *testing.T) {
	stream := frame("ab", false) + `{"error":"speaker reference unreadable"}` + "\n"
	err := decodeFrames(strings.NewReader(stream), func([]byte, int, bool) bool { return true })
	if err == nil || !strings.Contains(err.Error(), "speaker reference unreadable") {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestDecodeFramesHonoursStop(t *testing.T) {
	stream := frame("ab", false) + frame("cd", false)
	calls := 0
	err := decodeFrames(strings.NewReader(stream), func([]byte, int, bool) bool {
		calls++
		return false
	})
	if err != errStopped || calls != 1 {
		t.Fatalf("expected stop after first frame, got %v after %d calls", err, calls)
	}
}

func TestLimitedBufferTruncates(t *testing.T) {
	var b limitedBuffer
	n, _ := b.Write([]byte(strings.Repeat("x", maxStderr+10)))
	if n != maxStderr+10 || b.Len() != maxStderr {
		t.Fatalf("unexpected write %d / len %d", n, b.Len())
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("  ", 16000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}
