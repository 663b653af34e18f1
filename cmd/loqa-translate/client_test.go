package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

func TestClientProcessAndDownload(t *testing.T) {
	var gotTargets, gotSynth string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/process", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTargets, gotSynth = r.FormValue("targets"), r.FormValue("synthesize")
		_ = json.NewEncoder(w).Encode(pipeline.Response{
			RequestID:    "req-1",
			State:        pipeline.StateCompleted,
			Translations: map[string]translate.Outcome{"es": {Status: translate.StatusSucceeded, Text: "hola"}},
			Synthesis:    map[string]pipeline.SynthesisView{"es": {Status: tts.StatusSucceeded, ArtifactID: "a-1"}},
		})
	})
	mux.HandleFunc("/v1/artifacts/a-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("RIFF-audio"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(srv.URL + "/")
	resp, err := c.process(context.Background(), processInput{Filename: "clip.wav", Audio: []byte("RIFF"), Targets: "es", Synthesize: true})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if gotTargets != "es" || gotSynth != "true" {
		t.Fatalf("unexpected form targets=%q synthesize=%q", gotTargets, gotSynth)
	}

	dir := t.TempDir()
	var out bytes.Buffer
	if err := c.downloadAll(context.Background(), resp, dir, &out); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "req-1-es.wav"))
	if err != nil || string(data) != "RIFF-audio" {
		t.Fatalf("unexpected download %q %v", data, err)
	}
	if !strings.Contains(out.String(), "saved") {
		t.Fatalf("expected progress output, got %q", out.String())
	}
}

func TestClientSurfacesPipelineErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"kind":"input","stage":"ingest","message":"unsupported audio format"},"response":{"request_id":"req-2","state":"failed","failed_stage":"ingest"}}`))
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).process(context.Background(), processInput{Filename: "notes.txt", Audio: []byte("hi"), Targets: "es"})
	if err == nil || !strings.Contains(err.Error(), "ingest failed (input)") {
		t.Fatalf("unexpected error %v", err)
	}
	if resp == nil || resp.FailedStage != pipeline.StageIngest {
		t.Fatalf("expected failed response to be returned, got %+v", resp)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" es, ,fr,de ")
	if strings.Join(got, "|") != "es|fr|de" {
		t.Fatalf("unexpected split %v", got)
	}
}
