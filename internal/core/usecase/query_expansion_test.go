package usecase

import (
	"strings"
	"testing"
)

func TestSynonymExpanderAddsGroupMembers(t *testing.T) {
	e := NewSynonymExpander([][]string{
		{"Krishna", "Vasudeva", "Keshava"},
		{"Arjuna", "Partha"},
	})

	got := e.Expand("  Who is Krishna  ")
	if got.SemanticText != "Who is Krishna" {
		t.Fatalf("semantic text must stay unchanged, got %q", got.SemanticText)
	}
	if strings.Join(got.ExtraTerms, ",") != "vasudeva,keshava" {
		t.Fatalf("unexpected extra terms %v", got.ExtraTerms)
	}
}

func TestSynonymExpanderSkipsTermsAlreadyPresent(t *testing.T) {
	e := NewSynonymExpander([][]string{{"Arjuna", "Partha"}})
	got := e.Expand("arjuna partha")
	if len(got.ExtraTerms) != 0 {
		t.Fatalf("expected no extra terms, got %v", got.ExtraTerms)
	}
}

func TestSynonymExpanderIgnoresSingletonGroups(t *testing.T) {
	e := NewSynonymExpander([][]string{{"Bhishma"}})
	if got := e.Expand("bhishma"); len(got.ExtraTerms) != 0 {
		t.Fatalf("expected no expansion, got %v", got.ExtraTerms)
	}
}
