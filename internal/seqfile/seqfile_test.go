package seqfile

import (
	"errors"
	"strings"
	"testing"
)

const sample = `# alignment of three mammals
((A:0.1,B:0.2)anc1:0.1,C:0.3)anc0;

A /data/a.fa
B /data/b
*C /data/c.fa.gz
`

func TestParseNewick(t *testing.T) {
	tree, err := ParseNewick("((A:0.1,B:0.2)anc1:0.1,C:0.3)anc0;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Name != "anc0" {
		t.Errorf("expected root anc0, got %q", tree.Name)
	}

	leaves := tree.Leaves()
	if strings.Join(leaves, ",") != "A,B,C" {
		t.Errorf("unexpected leaves %v", leaves)
	}

	anc1 := tree.Find("anc1")
	if anc1 == nil {
		t.Fatal("anc1 not found")
	}
	if anc1.Length != 0.1 {
		t.Errorf("expected branch length 0.1, got %v", anc1.Length)
	}
}

func TestParseNewick_Invalid(t *testing.T) {
	tests := []string{
		"((A,B)",
		"(A,,B);",
		"(A:x,B);",
		"(A,B)root; extra",
	}
	for _, s := range tests {
		if _, err := ParseNewick(s); !errors.Is(err, ErrInvalidTree) {
			t.Errorf("%q: expected ErrInvalidTree, got %v", s, err)
		}
	}
}

func TestParse(t *testing.T) {
	sf, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sf.Genomes) != 3 {
		t.Fatalf("expected 3 genomes, got %d", len(sf.Genomes))
	}
	c, ok := sf.Genome("C")
	if !ok || !c.Outgroup || c.Path != "/data/c.fa.gz" {
		t.Errorf("unexpected genome C: %+v", c)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no tree", "# only a comment\n"},
		{"bad line", "(A,B)r;\nA\n"},
		{"duplicate", "(A,B)r;\nA a.fa\nA b.fa\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.in)); !errors.Is(err, ErrInvalidSeqFile) {
				t.Errorf("expected ErrInvalidSeqFile, got %v", err)
			}
		})
	}
}

func TestEvent(t *testing.T) {
	sf, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}

	ev, err := sf.Event("anc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Tree != "(A,B)anc1;" {
		t.Errorf("unexpected subtree %q", ev.Tree)
	}
	if len(ev.Ingroups) != 2 || ev.Ingroups[0].Name != "A" || ev.Ingroups[1].Name != "B" {
		t.Errorf("unexpected ingroups %+v", ev.Ingroups)
	}
	if len(ev.Outgroups) != 1 || ev.Outgroups[0].Name != "C" {
		t.Errorf("unexpected outgroups %+v", ev.Outgroups)
	}

	// Для корня всего дерева outgroup C попадает в поддерево
	whole, err := sf.Event("anc0")
	if err != nil {
		t.Fatal(err)
	}
	if len(whole.Outgroups) != 0 || len(whole.Ingroups) != 3 {
		t.Errorf("unexpected event for anc0: %+v", whole)
	}

	if _, err := sf.Event("anc9"); !errors.Is(err, ErrUnknownRoot) {
		t.Errorf("expected ErrUnknownRoot, got %v", err)
	}
}

func TestEvent_MissingSequence(t *testing.T) {
	sf, err := Parse(strings.NewReader("(A,B)r;\nA a.fa\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sf.Event("r"); !errors.Is(err, ErrMissingSequence) {
		t.Errorf("expected ErrMissingSequence, got %v", err)
	}
}
