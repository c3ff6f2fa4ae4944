package cmdlang

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"kvsd/internal/store"
)

func TestParseWrite(t *testing.T) {
	cmd, err := Parse("WRITE [(a,1)(b,2)]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []store.KV{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	if diff := cmp.Diff(want, cmd.Pairs); diff != "" {
		t.Fatalf("unexpected pairs (-want +got):\n%s", diff)
	}
}

func TestParseReadAndDelete(t *testing.T) {
	cmd, err := Parse("READ [a,b,c]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, cmd.Keys); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}

	cmd, err = Parse("DELETE [a]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Kind != KindDelete || len(cmd.Keys) != 1 || cmd.Keys[0] != "a" {
		t.Fatalf("unexpected delete command: %+v", cmd)
	}
}

func TestParseWait(t *testing.T) {
	cmd, err := Parse("WAIT 250")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.WaitFor != 250 {
		t.Fatalf("got %d, want 250", cmd.WaitFor)
	}
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	if _, err := Parse("   "); err != ErrComment {
		t.Fatalf("got %v, want ErrComment", err)
	}
	if _, err := Parse("# a comment"); err != ErrComment {
		t.Fatalf("got %v, want ErrComment", err)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := Parse("FROBNICATE x"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestParseRejectsOversizedToken(t *testing.T) {
	long := make([]byte, 41)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Parse("READ [" + string(long) + "]")
	if err == nil {
		t.Fatalf("expected rejection of token over MAX_STRING_SIZE")
	}
}
