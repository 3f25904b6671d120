package resources

import (
	"errors"
	"testing"

	"alma/internal/appctx"
	"github.com/rs/zerolog"
)

func TestUnwind_ReverseOrder(t *testing.T) {
	ctx := appctx.New(false, false, "", zerolog.Nop())
	s := New(ctx)

	var order []string
	s.Push("first", func() error { order = append(order, "first"); return nil })
	s.Push("second", func() error { order = append(order, "second"); return nil })
	s.Push("third", func() error { order = append(order, "third"); return nil })

	s.Unwind()

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestUnwind_ContinuesPastFailure(t *testing.T) {
	ctx := appctx.New(false, false, "", zerolog.Nop())
	s := New(ctx)

	var ran []string
	s.Push("a", func() error { ran = append(ran, "a"); return nil })
	s.Push("b", func() error { return errors.New("boom") })
	s.Push("c", func() error { ran = append(ran, "c"); return nil })

	s.Unwind()

	if len(ran) != 2 || ran[0] != "c" || ran[1] != "a" {
		t.Fatalf("expected both surviving cleanups to run despite the failure, got %v", ran)
	}
}

func TestCommit_DiscardsStack(t *testing.T) {
	ctx := appctx.New(false, false, "", zerolog.Nop())
	s := New(ctx)

	called := false
	s.Push("x", func() error { called = true; return nil })
	s.Commit()
	s.Unwind()

	if called {
		t.Fatalf("committed cleanup must not run")
	}
}
