package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var (
	// ErrUnsupported is returned for codes outside the configured registry.
	ErrUnsupported = errors.New("unsupported language")
	// ErrNoTargets is returned when a request names no target languages.
	ErrNoTargets = errors.New("no target languages")
	// ErrTooManyTargets is returned when a request exceeds the target cap.
	ErrTooManyTargets = errors.New("too many target languages")
)

// Info describes one supported language.
type Info struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Registry is the immutable set of language codes the pipeline accepts.
type Registry struct {
	codes map[string]Info
	order []string
}

func NewRegistry(supported []string) (*Registry, error) {
	r := &Registry{codes: make(map[string]Info, len(supported))}
	namer := display.English.Tags()
	for _, raw := range supported {
		code, err := Canonical(raw)
		if err != nil {
			return nil, fmt.Errorf("languages.supported: %w", err)
		}
		if _, ok := r.codes[code]; ok {
			continue
		}
		tag := language.Make(code)
		name := namer.Name(tag)
		if name == "" {
			name = code
		}
		r.codes[code] = Info{Code: code, Name: name}
		r.order = append(r.order, code)
	}
	if len(r.order) == 0 {
		return nil, errors.New("languages.supported must not be empty")
	}
	return r, nil
}

// Canonical parses a BCP-47 tag and reduces it to its lowercase base code
// ("pt-BR" -> "pt", "ZH" -> "zh").
func Canonical(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty code", ErrUnsupported)
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	return strings.ToLower(base.String()), nil
}

// Lookup resolves a code to its canonical supported form.
func (r *Registry) Lookup(code string) (string, error) {
	c, err := Canonical(code)
	if err != nil {
		return "", err
	}
	if _, ok := r.codes[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, code)
	}
	return c, nil
}

// Resolve accepts either a code or an English language name ("english",
// as some speech models report it) and returns the supported code.
func (r *Registry) Resolve(value string) (string, bool) {
	if code, err := r.Lookup(value); err == nil {
		return code, true
	}
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "" {
		return "", false
	}
	for _, code := range r.order {
		if strings.ToLower(r.codes[code].Name) == name {
			return code, true
		}
	}
	return "", false
}

// NormalizeTargets validates a requested target list. Duplicates collapse
// keeping first-seen order; any unsupported code rejects the whole list.
func (r *Registry) NormalizeTargets(targets []string, max int) ([]string, error) {
	var out []string
	seen := make(map[string]struct{}, len(targets))
	for _, raw := range targets {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		code, err := r.Lookup(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	if max > 0 && len(out) > max {
		return nil, fmt.Errorf("%w: %d requested, limit is %d", ErrTooManyTargets, len(out), max)
	}
	return out, nil
}

// List returns supported languages sorted by code.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.codes[code])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *Registry) Name(code string) string {
	if info, ok := r.codes[code]; ok {
		return info.Name
	}
	return code
}
