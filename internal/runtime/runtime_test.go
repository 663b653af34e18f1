package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.HTTP.RateLimitPerMinute = 0
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.Ingest.WorkDir = filepath.Join(dir, "work")
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	cfg.Bus.Port = -1
	cfg.Pipeline.RequestTimeoutMS = 10000
	return cfg
}

func buildRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	rt := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err := rt.build(context.Background()); err != nil {
		rt.shutdown()
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(rt.shutdown)
	rt.ready.Store(true)
	return rt
}

func speechWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	const rate = 16000
	samples := make([]int, int(seconds*rate))
	for i := range samples {
		samples[i] = int(8000 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	data, err := audio.EncodeWAV(samples, rate, 1)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return data
}

func postClip(t *testing.T, url string, targets string, clip []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("targets", targets)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(clip)
	_ = mw.Close()
	resp, err := http.Post(url+"/v1/process", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestRuntimeServesPipelineOverHTTP(t *testing.T) {
	rt := buildRuntime(t, testConfig(t))
	srv := httptest.NewServer(rt.handler)
	t.Cleanup(srv.Close)

	resp := postClip(t, srv.URL, "es,fr", speechWAV(t, 1.5))
	var out pipeline.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || out.State != pipeline.StateCompleted {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, out)
	}
	if out.Transcription != "hello, how are you today?" {
		t.Fatalf("unexpected transcription %q", out.Transcription)
	}

	view := out.Synthesis["es"]
	if view.Status != tts.StatusSucceeded || view.ArtifactID == "" {
		t.Fatalf("expected stored spanish audio, got %+v", view)
	}
	art, err := http.Get(srv.URL + "/v1/artifacts/" + view.ArtifactID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	data, _ := io.ReadAll(art.Body)
	art.Body.Close()
	if art.StatusCode != http.StatusOK || len(data) < 44 {
		t.Fatalf("unexpected artifact %d (%d bytes)", art.StatusCode, len(data))
	}

	timeline, err := http.Get(srv.URL + "/v1/requests/" + out.RequestID + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	var tl struct {
		Events []json.RawMessage `json:"events"`
	}
	_ = json.NewDecoder(timeline.Body).Decode(&tl)
	timeline.Body.Close()
	if timeline.StatusCode != http.StatusOK || len(tl.Events) != len(out.Transitions) {
		t.Fatalf("expected %d timeline events, got %d (status %d)", len(out.Transitions), len(tl.Events), timeline.StatusCode)
	}

	ready, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("expected ready runtime, got %d", ready.StatusCode)
	}
}

func TestRuntimeMarksBrokenBackendUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.TTS.Mode = "exec"
	cfg.TTS.Command = ""
	rt := buildRuntime(t, cfg)
	srv := httptest.NewServer(rt.handler)
	t.Cleanup(srv.Close)

	var ttsReady, found bool
	for _, status := range rt.Capabilities() {
		if status.Name == "tts" {
			found, ttsReady = true, status.Ready
		}
	}
	if !found || ttsReady {
		t.Fatalf("expected tts registered as unavailable, got %+v", rt.Capabilities())
	}

	resp := postClip(t, srv.URL, "es", speechWAV(t, 1))
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unavailable synthesizer, got %d", resp.StatusCode)
	}
}

func TestRuntimeRejectsUnsupportedDefaultLanguage(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.DefaultLanguage = "xx"
	rt := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	defer rt.shutdown()
	if err := rt.build(context.Background()); err == nil {
		t.Fatal("expected build to fail for unsupported default language")
	}
}

func TestRuntimeServesPipelineOverBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Artifacts.Backend = "jetstream"
	rt := buildRuntime(t, cfg)

	noSynth := false
	payload, _ := json.Marshal(protocol.ProcessRequest{
		Filename:   "clip.wav",
		Audio:      speechWAV(t, 1),
		Targets:    []string{"de"},
		Synthesize: &noSynth,
	})
	msg, err := rt.bus.Conn().Request(protocol.SubjectProcess, payload, 10*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply struct {
		Response pipeline.Response    `json:"response"`
		Error    *protocol.ErrorReply `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Error != nil || reply.Response.State != pipeline.StateCompleted {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Response.Stages[pipeline.StageSynthesize].Status != pipeline.StageSkipped {
		t.Fatalf("expected synthesis skipped, got %+v", reply.Response.Stages)
	}
}
