package morphz

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSketch(t *testing.T) {
	t.Run("Renders The Full Topology", func(t *testing.T) {
		conjunction := NewAllChain[string, string]("conjunction-chain",
			Mutable("normalize", func(_ context.Context, e *Element[string, string], _ Meta) (*Element[string, string], error) {
				return e, nil
			}),
			Transformer("conjoin", func(_ context.Context, _ string, prior string, _ Meta) (string, error) {
				return prior, nil
			}),
		).WithTag("conjunction")
		defer conjunction.Close()

		fallback := NewAnyChain[string, string]("fallback-chain",
			Transformer("best-effort", func(_ context.Context, _ string, prior string, _ Meta) (string, error) {
				return prior, nil
			}),
		)
		defer fallback.Close()

		selector := NewSelector[string, string]("router", conjunction, fallback)
		defer selector.Close()

		process := NewProcess("engine", selector)
		defer process.Close()

		child := newStage("finisher", "_f", "")
		defer child.Close()
		process.AppendSubprocess(child)

		var buf bytes.Buffer
		if err := Sketch(&buf, process); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		dot := buf.String()
		if !strings.Contains(dot, "digraph") {
			t.Error("expected DOT output")
		}
		for _, label := range []string{
			"engine", "router",
			"conjunction-chain", "fallback-chain",
			"normalize", "conjoin", "best-effort",
			"finisher",
		} {
			if !strings.Contains(dot, label) {
				t.Errorf("expected label %q in the sketch", label)
			}
		}

		// Selector edges carry the routing tag, chain fallbacks the
		// default marker, and the cascade edge its own label.
		for _, edgeLabel := range []string{"conjunction", "default", "subprocess"} {
			if !strings.Contains(dot, edgeLabel) {
				t.Errorf("expected edge label %q in the sketch", edgeLabel)
			}
		}
	})

	t.Run("Renders Verifier Wrapping", func(t *testing.T) {
		verifier := NewVerifier("gate",
			Transformer("measure", func(_ context.Context, input string, _ int, _ Meta) (int, error) {
				return len(input), nil
			}),
			func(_ context.Context, _ *Element[string, int], _ Meta) error { return nil },
		)
		defer verifier.Close()

		chain := NewAllChain[string, int]("checked-chain", verifier)
		defer chain.Close()

		selector := NewSelector[string, int]("router", chain)
		defer selector.Close()

		process := NewProcess("engine", selector)
		defer process.Close()

		var buf bytes.Buffer
		if err := Sketch(&buf, process); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		dot := buf.String()
		if !strings.Contains(dot, "gate") {
			t.Error("expected the verifier in the sketch")
		}
		if !strings.Contains(dot, "measure") {
			t.Error("expected the wrapped changeable in the sketch")
		}
	})

	t.Run("Nil Process Fails", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Sketch[string, string](&buf, nil); err == nil {
			t.Error("expected error for nil process")
		}
	})

	t.Run("Shared Components Render Per Use", func(t *testing.T) {
		shared := taggedChain("shared", "s", "_s")
		defer shared.Close()

		selector := NewSelector[string, string]("router", shared)
		defer selector.Close()

		// The same selector drives both stages.
		parent := NewProcess("parent", selector)
		defer parent.Close()
		child := NewProcess("child", selector)
		defer child.Close()
		parent.AppendSubprocess(child)

		var buf bytes.Buffer
		if err := Sketch(&buf, parent); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Each use gets its own vertex, so the shared router appears twice.
		if got := strings.Count(buf.String(), `"router"`); got != 2 {
			t.Errorf("expected the shared selector to render twice, got %d", got)
		}
	})
}
