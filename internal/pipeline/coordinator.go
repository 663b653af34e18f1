package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/language"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Ingestor interface {
	Normalize(ctx context.Context, raw []byte, filename string) (*audio.Normalized, error)
}

type Transcriber interface {
	Available() bool
	Transcribe(ctx context.Context, clip *audio.Normalized, hint string) (stt.Result, error)
}

type Translator interface {
	Available() bool
	TranslateAll(ctx context.Context, req translate.Request) (translate.Result, error)
}

type Synthesizer interface {
	Available() bool
	SynthesizeAll(ctx context.Context, translations translate.Result, ref *tts.VoiceReference) (tts.Result, error)
}

// Options wires the coordinator. Recorder may be nil.
type Options struct {
	Languages       *language.Registry
	Ingestor        Ingestor
	Transcriber     Transcriber
	Translator      Translator
	Synthesizer     Synthesizer
	Artifacts       artifact.Store
	Recorder        Recorder
	Timeout         time.Duration
	MaxTargets      int
	ArtifactBaseURL string
	Logger          *slog.Logger

	// AllowVoiceCloning gates the per-request clone_voice flag.
	AllowVoiceCloning bool
}

// Coordinator drives one request through ingest, transcription, translation
// and synthesis. It holds no lock across capability calls; requests are
// independent of each other.
type Coordinator struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	ins    instruments
	clock  func() time.Time
}

func New(opts Options) *Coordinator {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	logger := opts.Logger.With(slog.String("component", "pipeline"))
	return &Coordinator{
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		ins:    newInstruments(logger),
		clock:  time.Now,
	}
}

// run carries the mutable state of a single request.
type run struct {
	c    *Coordinator
	req  Request
	resp *Response
	m    *machine
	log  *slog.Logger
}

// Process executes the pipeline. On a fatal failure the returned Response is
// in state failed and the error is a *Error.
func (c *Coordinator) Process(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.origin", req.Origin),
		attribute.Int("request.targets", len(req.Targets)),
	))
	defer span.End()

	r := &run{
		c:    c,
		req:  req,
		resp: newResponse(req.ID, c.clock()),
		m:    newMachine(c.clock),
		log:  c.logger.With(slog.String("request_id", req.ID)),
	}

	resp, err := r.execute(ctx)
	if err != nil {
		var pe *Error
		errors.As(err, &pe)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(pe.Kind))
		c.ins.request(ctx, StateFailed, pe.Kind)
		r.log.Warn("pipeline request failed",
			slog.String("kind", string(pe.Kind)),
			slog.String("stage", string(pe.Stage)),
			slogError(err))
		return resp, err
	}
	c.ins.request(ctx, resp.State, "")
	r.log.Info("pipeline request completed",
		slog.String("detected_language", resp.DetectedLanguage),
		slog.Bool("partial", resp.Partial),
		slog.Int("synthesized", len(r.synthesized())))
	return resp, nil
}

func (r *run) execute(ctx context.Context) (*Response, error) {
	c := r.c
	c.opts.Recorder.Begin(ctx, r.req, r.req.Targets)

	targets, err := c.opts.Languages.NormalizeTargets(r.req.Targets, c.opts.MaxTargets)
	if err != nil {
		return r.fail(ctx, StageIngest, classify(StageIngest, err))
	}
	r.resp.Targets = targets

	hint := ""
	if strings.TrimSpace(r.req.SourceLanguage) != "" {
		if hint, err = c.opts.Languages.Lookup(r.req.SourceLanguage); err != nil {
			return r.fail(ctx, StageTranscribe, classify(StageTranscribe, fmt.Errorf("source_language: %w", err)))
		}
	}

	if stage, ok := r.unavailable(); !ok {
		return r.fail(ctx, stage, &Error{Kind: KindUnavailable, Stage: stage, Message: "capability unavailable", Err: capability.ErrUnavailable})
	}

	// ingest
	var clip *audio.Normalized
	err = r.stage(ctx, StageIngest, func(ctx context.Context) (StageStatus, error) {
		var err error
		clip, err = c.opts.Ingestor.Normalize(ctx, r.req.Audio, r.req.Filename)
		return StageSucceeded, err
	})
	if err != nil {
		return r.fail(ctx, StageIngest, classify(StageIngest, err))
	}
	defer clip.Release()
	r.resp.AudioSeconds = clip.Duration.Seconds()
	if err := r.advance(ctx, StateIngested, StageIngest, ""); err != nil {
		return r.fail(ctx, StageIngest, classify(StageIngest, err))
	}

	// transcribe
	var transcript stt.Result
	err = r.stage(ctx, StageTranscribe, func(ctx context.Context) (StageStatus, error) {
		var err error
		transcript, err = c.opts.Transcriber.Transcribe(ctx, clip, hint)
		return StageSucceeded, err
	})
	if err != nil {
		return r.fail(ctx, StageTranscribe, classify(StageTranscribe, err))
	}
	r.resp.Transcription = transcript.Text
	r.resp.DetectedLanguage = transcript.Language
	r.resp.LanguageFallback = transcript.LanguageFallback
	r.resp.Confidence = transcript.Confidence
	if err := r.advance(ctx, StateTranscribed, StageTranscribe, transcript.Language); err != nil {
		return r.fail(ctx, StageTranscribe, classify(StageTranscribe, err))
	}

	// translate
	var translations translate.Result
	err = r.stage(ctx, StageTranslate, func(ctx context.Context) (StageStatus, error) {
		var err error
		translations, err = c.opts.Translator.TranslateAll(ctx, translate.Request{
			Text:    transcript.Text,
			Source:  transcript.Language,
			Targets: targets,
		})
		if err != nil {
			return StageFailed, err
		}
		return r.countOutcomes(ctx, StageTranslate, translations), nil
	})
	if err != nil {
		return r.fail(ctx, StageTranslate, classify(StageTranslate, err))
	}
	r.resp.Translations = translations
	if err := r.advance(ctx, StateTranslated, StageTranslate, strings.Join(translations.Succeeded(), ",")); err != nil {
		return r.fail(ctx, StageTranslate, classify(StageTranslate, err))
	}

	if !r.req.Synthesize {
		clip.Release()
		r.resp.Stages[StageSynthesize] = StageReport{Status: StageSkipped}
		return r.complete(ctx)
	}

	// synthesize
	err = r.stage(ctx, StageSynthesize, func(ctx context.Context) (StageStatus, error) {
		var ref *tts.VoiceReference
		if r.req.CloneVoice && c.opts.AllowVoiceCloning {
			ref = &tts.VoiceReference{Path: clip.Path, Data: clip.Data}
		}
		results, err := c.opts.Synthesizer.SynthesizeAll(ctx, translations, ref)
		clip.Release()
		if err != nil {
			return StageFailed, err
		}
		r.persist(ctx, results)
		return r.synthesisStatus(ctx), nil
	})
	if err != nil {
		return r.fail(ctx, StageSynthesize, classify(StageSynthesize, err))
	}
	if err := r.advance(ctx, StateSynthesized, StageSynthesize, strings.Join(r.synthesized(), ",")); err != nil {
		return r.fail(ctx, StageSynthesize, classify(StageSynthesize, err))
	}
	return r.complete(ctx)
}

// unavailable returns the first stage whose capability is missing.
func (r *run) unavailable() (Stage, bool) {
	o := r.c.opts
	switch {
	case o.Ingestor == nil:
		return StageIngest, false
	case o.Transcriber == nil || !o.Transcriber.Available():
		return StageTranscribe, false
	case o.Translator == nil || !o.Translator.Available():
		return StageTranslate, false
	case r.req.Synthesize && (o.Synthesizer == nil || !o.Synthesizer.Available() || o.Artifacts == nil):
		return StageSynthesize, false
	}
	return "", true
}

// stage runs fn inside a span and records its report.
func (r *run) stage(ctx context.Context, stage Stage, fn func(context.Context) (StageStatus, error)) error {
	ctx, span := r.c.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	started := r.c.clock()

	status, err := fn(ctx)
	elapsed := r.c.clock().Sub(started)
	report := StageReport{Status: status, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		report.Status = StageFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			report.Status = StageTimedOut
		}
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("stage.status", string(report.Status)))
	r.resp.Stages[stage] = report
	r.c.ins.stage(ctx, stage, elapsed, report.Status)
	return err
}

// persist stores every collected audio clip. Audio arriving after the
// request deadline is dropped, so abandoned synthesis never leaves artifacts.
func (r *run) persist(ctx context.Context, results tts.Result) {
	for _, code := range sortedKeys(results) {
		o := results[code]
		view := SynthesisView{
			Status:          o.Status,
			DurationSeconds: o.Duration.Seconds(),
			VoiceCloned:     o.VoiceCloned,
			Error:           o.Error,
		}
		if o.Status == tts.StatusSucceeded {
			switch {
			case ctx.Err() != nil:
				view = SynthesisView{Status: tts.StatusTimedOut, Error: "synthesis finished after the request deadline"}
			default:
				meta, err := r.c.opts.Artifacts.Put(ctx, artifact.Artifact{
					RequestID: r.req.ID,
					Language:  code,
				}, o.Audio)
				if err != nil {
					r.log.Warn("store artifact failed", slog.String("language", code), slogError(err))
					view = SynthesisView{Status: tts.StatusFailed, Error: "store artifact: " + err.Error()}
					break
				}
				view.ArtifactID = meta.ID
				view.URL = r.c.artifactURL(meta.ID)
				r.c.ins.artifact(ctx, code)
			}
		}
		r.resp.Synthesis[code] = view
	}
}

func (r *run) countOutcomes(ctx context.Context, stage Stage, res translate.Result) StageStatus {
	succeeded, timedOut := 0, 0
	for _, o := range res {
		r.c.ins.language(ctx, stage, string(o.Status))
		switch o.Status {
		case translate.StatusSucceeded:
			succeeded++
		case translate.StatusTimedOut:
			timedOut++
		}
	}
	return fanoutStatus(succeeded, timedOut, len(res))
}

func (r *run) synthesisStatus(ctx context.Context) StageStatus {
	succeeded, timedOut, attempted := 0, 0, 0
	for _, v := range r.resp.Synthesis {
		r.c.ins.language(ctx, StageSynthesize, string(v.Status))
		switch v.Status {
		case tts.StatusSkippedUpstream:
			continue
		case tts.StatusSucceeded:
			succeeded++
		case tts.StatusTimedOut:
			timedOut++
		}
		attempted++
	}
	return fanoutStatus(succeeded, timedOut, attempted)
}

func (r *run) synthesized() []string {
	var out []string
	for code, v := range r.resp.Synthesis {
		if v.Status == tts.StatusSucceeded {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

func (r *run) advance(ctx context.Context, to State, stage Stage, detail string) error {
	t, err := r.m.advance(to, stage)
	if err != nil {
		return err
	}
	r.resp.State = to
	r.resp.Transitions = append(r.resp.Transitions, t)
	r.c.opts.Recorder.Transition(ctx, r.req.ID, t, detail)
	return nil
}

func (r *run) complete(ctx context.Context) (*Response, error) {
	r.resp.Partial = r.partial()
	r.resp.CompletedAt = r.c.clock().UTC()
	if err := r.advance(ctx, StateCompleted, "", ""); err != nil {
		return r.fail(ctx, StageSynthesize, classify(StageSynthesize, err))
	}
	return r.resp, nil
}

func (r *run) partial() bool {
	for _, o := range r.resp.Translations {
		if o.Status != translate.StatusSucceeded {
			return true
		}
	}
	if !r.req.Synthesize {
		return false
	}
	for _, v := range r.resp.Synthesis {
		if v.Status != tts.StatusSucceeded {
			return true
		}
	}
	return false
}

func (r *run) fail(ctx context.Context, stage Stage, pe *Error) (*Response, error) {
	if pe.Stage == "" {
		pe.Stage = stage
	}
	if !r.m.state.Terminal() {
		if _, err := r.m.advance(StateFailed, pe.Stage); err == nil {
			t := r.m.history[len(r.m.history)-1]
			r.resp.Transitions = append(r.resp.Transitions, t)
			r.c.opts.Recorder.Transition(ctx, r.req.ID, t, string(pe.Kind)+": "+pe.Error())
		}
	}
	r.resp.State = StateFailed
	r.resp.FailedStage = pe.Stage
	r.resp.CompletedAt = r.c.clock().UTC()
	return r.resp, pe
}

// TranslateText translates text without audio. source is required.
func (c *Coordinator) TranslateText(ctx context.Context, text, source string, targets []string) (*TextResponse, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "pipeline.translate_text", trace.WithAttributes(attribute.Int("request.targets", len(targets))))
	defer span.End()

	resp := &TextResponse{RequestID: uuid.NewString()}
	normalized, err := c.opts.Languages.NormalizeTargets(targets, c.opts.MaxTargets)
	if err != nil {
		return nil, classify(StageTranslate, err)
	}
	if strings.TrimSpace(source) == "" {
		return nil, classify(StageTranslate, ErrMissingSource)
	}
	if resp.SourceLanguage, err = c.opts.Languages.Lookup(source); err != nil {
		return nil, classify(StageTranslate, fmt.Errorf("source_language: %w", err))
	}
	if c.opts.Translator == nil || !c.opts.Translator.Available() {
		return nil, classify(StageTranslate, capability.ErrUnavailable)
	}

	res, err := c.opts.Translator.TranslateAll(ctx, translate.Request{Text: text, Source: resp.SourceLanguage, Targets: normalized})
	if err != nil {
		pe := classify(StageTranslate, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(pe.Kind))
		return nil, pe
	}
	resp.Translations = res
	for _, o := range res {
		c.ins.language(ctx, StageTranslate, string(o.Status))
		if o.Status != translate.StatusSucceeded {
			resp.Partial = true
		}
	}
	return resp, nil
}

func (c *Coordinator) artifactURL(id string) string {
	return strings.TrimRight(c.opts.ArtifactBaseURL, "/") + "/v1/artifacts/" + id
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
