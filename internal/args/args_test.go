package args

import (
	"os"
	"slices"
	"testing"
)

func TestCurrent_ReturnsCopy(t *testing.T) {
	first := Current()
	if len(first) == 0 {
		t.Fatal("Current() returned an empty vector; element 0 should be the program path")
	}

	first[0] = "mutated"
	if Current()[0] == "mutated" {
		t.Error("Current() must return a fresh copy on every call")
	}
	if os.Args[0] == "mutated" {
		t.Error("Current() must not alias os.Args")
	}
}

func TestFixed(t *testing.T) {
	src := Fixed("app.exe", "--open", "file.txt")

	got := src()
	want := []string{"app.exe", "--open", "file.txt"}
	if !slices.Equal(got, want) {
		t.Fatalf("Fixed()() = %q, want %q", got, want)
	}

	got[1] = "changed"
	if again := src(); again[1] != "--open" {
		t.Errorf("Fixed source leaked mutation: %q", again)
	}

	if empty := Fixed()(); empty == nil || len(empty) != 0 {
		t.Errorf("Fixed()() = %#v, want empty non-nil slice", empty)
	}
}
