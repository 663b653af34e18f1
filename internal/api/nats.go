package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/nats-io/nats.go"
)

const queueGroup = "loqa-translate"

// BusService answers pipeline requests arriving over NATS request-reply.
type BusService struct {
	pipeline Pipeline
	bus      *bus.Client
	logger   *slog.Logger
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewBusService(parent context.Context, p Pipeline, busClient *bus.Client, logger *slog.Logger) *BusService {
	ctx, cancel := context.WithCancel(parent)
	return &BusService{
		pipeline: p,
		bus:      busClient,
		logger:   logger.With(slog.String("component", "bus-api")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *BusService) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectProcess, queueGroup, s.handleProcess)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for pipeline requests", slog.String("subject", protocol.SubjectProcess))
	return nil
}

func (s *BusService) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *BusService) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *BusService) handleProcess(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reply := s.process(msg.Data)
		data, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error("encode pipeline reply failed", slogError(err))
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("pipeline reply failed", slogError(err))
		}
	}()
}

func (s *BusService) process(data []byte) protocol.ProcessReply {
	var req protocol.ProcessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("bus api failed to decode request", slogError(err))
		return protocol.ProcessReply{Error: &protocol.ErrorReply{Kind: string(pipeline.KindInput), Message: "invalid request payload"}}
	}
	synthesize := true
	if req.Synthesize != nil {
		synthesize = *req.Synthesize
	}
	resp, err := s.pipeline.Process(s.ctx, pipeline.Request{
		ID:             req.RequestID,
		Origin:         "nats",
		Filename:       req.Filename,
		Audio:          req.Audio,
		Targets:        req.Targets,
		SourceLanguage: req.SourceLanguage,
		CloneVoice:     req.CloneVoice,
		Synthesize:     synthesize,
	})
	if err != nil {
		var pe *pipeline.Error
		if errors.As(err, &pe) {
			return protocol.ProcessReply{Response: resp, Error: &protocol.ErrorReply{Kind: string(pe.Kind), Stage: string(pe.Stage), Message: pe.Error()}}
		}
		return protocol.ProcessReply{Error: &protocol.ErrorReply{Kind: string(pipeline.KindStage), Message: err.Error()}}
	}
	return protocol.ProcessReply{Response: resp}
}
