package language

import (
	"errors"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]string{"en", "es", "fr", "zh", "pt"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestNormalizeTargetsCollapsesDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	got, err := r.NormalizeTargets([]string{"es", "FR", "es", " pt-BR ", ""}, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"es", "fr", "pt"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNormalizeTargetsRejectsEmpty(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.NormalizeTargets(nil, 16); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
	if _, err := r.NormalizeTargets([]string{" ", ""}, 16); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets for blank codes, got %v", err)
	}
}

func TestNormalizeTargetsRejectsUnsupported(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.NormalizeTargets([]string{"es", "xx-invalid-code"}, 16); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := r.NormalizeTargets([]string{"de"}, 16); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for unregistered code, got %v", err)
	}
}

func TestNormalizeTargetsEnforcesCap(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.NormalizeTargets([]string{"es", "fr", "zh"}, 2); !errors.Is(err, ErrTooManyTargets) {
		t.Fatalf("expected ErrTooManyTargets, got %v", err)
	}
}

func TestResolveAcceptsNames(t *testing.T) {
	r := newTestRegistry(t)
	if code, ok := r.Resolve("english"); !ok || code != "en" {
		t.Fatalf("expected en, got %q %v", code, ok)
	}
	if code, ok := r.Resolve("es-MX"); !ok || code != "es" {
		t.Fatalf("expected es, got %q %v", code, ok)
	}
	if _, ok := r.Resolve("klingon"); ok {
		t.Fatal("expected unresolved name")
	}
	if _, ok := r.Resolve(""); ok {
		t.Fatal("expected empty value to be unresolved")
	}
}

func TestListHasDisplayNames(t *testing.T) {
	r := newTestRegistry(t)
	list := r.List()
	if len(list) != 5 {
		t.Fatalf("expected 5 languages, got %d", len(list))
	}
	if list[0].Code != "en" || list[0].Name != "English" {
		t.Fatalf("unexpected first entry %+v", list[0])
	}
	if r.Name("es") != "Spanish" {
		t.Fatalf("expected Spanish, got %q", r.Name("es"))
	}
}
