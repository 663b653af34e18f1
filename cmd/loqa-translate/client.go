package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-translate/internal/language"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

type processInput struct {
	Filename   string
	Audio      []byte
	Targets    string
	Source     string
	CloneVoice bool
	Synthesize bool
}

type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Stage   string `json:"stage"`
		Message string `json:"message"`
	} `json:"error"`
	Response *pipeline.Response `json:"response"`
}

func (c *client) process(ctx context.Context, in processInput) (*pipeline.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"targets":     in.Targets,
		"synthesize":  strconv.FormatBool(in.Synthesize),
		"clone_voice": strconv.FormatBool(in.CloneVoice),
	}
	if in.Source != "" {
		fields["source_language"] = in.Source
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(in.Filename))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(in.Audio); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/process", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr, err := decodeError(resp)
		if err != nil {
			return nil, err
		}
		return apiErr.Response, fmt.Errorf("%s failed (%s): %s", stageOrRequest(apiErr.Error.Stage), apiErr.Error.Kind, apiErr.Error.Message)
	}
	var out pipeline.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (c *client) translate(ctx context.Context, text, source string, targets []string) (*pipeline.TextResponse, error) {
	body, err := json.Marshal(map[string]any{"text": text, "source_language": source, "targets": targets})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/translate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		apiErr, err := decodeError(resp)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("translate failed (%s): %s", apiErr.Error.Kind, apiErr.Error.Message)
	}
	var out pipeline.TextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (c *client) languages(ctx context.Context) ([]language.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/languages", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("languages: unexpected status %s", resp.Status)
	}
	var out struct {
		Languages []language.Info `json:"languages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode languages: %w", err)
	}
	return out.Languages, nil
}

// downloadAll fetches every stored artifact once; the server forgets them after.
func (c *client) downloadAll(ctx context.Context, resp *pipeline.Response, dir string, w io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, code := range sortedKeys(resp.Synthesis) {
		view := resp.Synthesis[code]
		if view.Status != tts.StatusSucceeded || view.ArtifactID == "" {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.wav", resp.RequestID, code))
		n, err := c.download(ctx, view.ArtifactID, path)
		if err != nil {
			return fmt.Errorf("download %s: %w", code, err)
		}
		fmt.Fprintf(w, "saved %s (%s)\n", path, humanize.Bytes(uint64(n)))
	}
	return nil
}

func (c *client) download(ctx context.Context, id, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/artifacts/"+id, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func decodeError(resp *http.Response) (apiError, error) {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		return apiErr, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return apiErr, nil
}

func printResponse(w io.Writer, resp *pipeline.Response) {
	fmt.Fprintf(w, "request %s: %s\n", resp.RequestID, resp.State)
	if resp.FailedStage != "" {
		fmt.Fprintf(w, "failed stage: %s\n", resp.FailedStage)
	}
	if resp.Transcription != "" {
		fmt.Fprintf(w, "transcription [%s, %.1fs]: %s\n", resp.DetectedLanguage, resp.AudioSeconds, resp.Transcription)
	}
	for _, code := range sortedKeys(resp.Translations) {
		o := resp.Translations[code]
		line := o.Text
		if o.Error != "" {
			line = o.Error
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", code, o.Status, line)
		if view, ok := resp.Synthesis[code]; ok {
			fmt.Fprintf(w, "  %s\taudio %s\t%s\n", code, view.Status, view.URL)
		}
	}
}

func stageOrRequest(stage string) string {
	if stage == "" {
		return "request"
	}
	return stage
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
