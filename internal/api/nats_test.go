package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/protocol"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, discardLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{ConnectTimeout: 2000}, discardLogger(), srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusServiceRequestReply(t *testing.T) {
	client := startBus(t)
	p := &fakePipeline{}
	svc := NewBusService(context.Background(), p, client, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy subscription")
	}

	noSynth := false
	payload, _ := json.Marshal(protocol.ProcessRequest{
		Filename:   "clip.wav",
		Audio:      []byte("RIFF"),
		Targets:    []string{"es"},
		Synthesize: &noSynth,
	})
	msg, err := client.Conn().Request(protocol.SubjectProcess, payload, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply struct {
		Response pipeline.Response    `json:"response"`
		Error    *protocol.ErrorReply `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Error != nil || reply.Response.State != pipeline.StateCompleted {
		t.Fatalf("unexpected reply %+v", reply)
	}
	req := p.lastRequest()
	if req.Origin != "nats" || req.Synthesize || string(req.Audio) != "RIFF" {
		t.Fatalf("unexpected pipeline request %+v", req)
	}
}

func TestBusServiceReportsErrors(t *testing.T) {
	client := startBus(t)
	p := &fakePipeline{err: &pipeline.Error{Kind: pipeline.KindInput, Stage: pipeline.StageIngest, Message: "invalid input"}}
	svc := NewBusService(context.Background(), p, client, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	msg, err := client.Conn().Request(protocol.SubjectProcess, []byte("not json"), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.ProcessReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Error == nil || reply.Error.Kind != string(pipeline.KindInput) {
		t.Fatalf("expected input error for malformed payload, got %+v", reply)
	}

	payload, _ := json.Marshal(protocol.ProcessRequest{Filename: "clip.wav", Audio: []byte("x"), Targets: []string{"es"}})
	msg, err = client.Conn().Request(protocol.SubjectProcess, payload, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	reply = protocol.ProcessReply{}
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Error == nil || reply.Error.Stage != string(pipeline.StageIngest) {
		t.Fatalf("expected ingest error, got %+v", reply)
	}
}
