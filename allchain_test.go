package morphz

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func appendStep(name Name, suffix string) Changeable[string, string] {
	return Transformer(name, func(_ context.Context, _ string, prior string, _ Meta) (string, error) {
		return prior + suffix, nil
	})
}

func TestNewAllChain(t *testing.T) {
	chain := NewAllChain[string, string]("steps")
	defer chain.Close()

	if chain == nil {
		t.Fatal("NewAllChain should not return nil")
	}
	if chain.Len() != 0 {
		t.Errorf("new chain should be empty, got length %d", chain.Len())
	}
	if chain.Tagged() {
		t.Error("new chain should be untagged")
	}
	if chain.Metrics() == nil {
		t.Error("expected metrics registry to be initialized")
	}
	if chain.Tracer() == nil {
		t.Error("expected tracer to be initialized")
	}
}

func TestAllChainRegister(t *testing.T) {
	chain := NewAllChain[string, string]("steps")
	defer chain.Close()

	chain.Register(
		appendStep("first", "_1"),
		appendStep("second", "_2"),
	)

	if chain.Len() != 2 {
		t.Errorf("expected 2 events, got %d", chain.Len())
	}

	names := chain.Names()
	expected := []Name{"first", "second"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("expected names %v, got %v", expected, names)
	}

	chain.Clear()
	if chain.Len() != 0 {
		t.Errorf("expected empty chain after Clear, got %d", chain.Len())
	}
}

func TestAllChainTag(t *testing.T) {
	chain := NewAllChain[string, string]("steps").WithTag("conjunction")
	defer chain.Close()

	if !chain.Tagged() {
		t.Error("expected chain to be tagged")
	}
	if chain.Tag() != "conjunction" {
		t.Errorf("expected tag 'conjunction', got %q", chain.Tag())
	}
}

func TestAllChainDo(t *testing.T) {
	t.Run("Runs Steps In Order", func(t *testing.T) {
		chain := NewAllChain("steps",
			appendStep("first", "_1"),
			appendStep("second", "_2"),
			appendStep("third", "_3"),
		)
		defer chain.Close()

		result, err := chain.Do(context.Background(), NewElement[string, string]("in"), Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Output != "_1_2_3" {
			t.Errorf("expected output '_1_2_3', got %q", result.Output)
		}

		successes := chain.Metrics().Counter(AllChainSuccessesTotal).Value()
		if successes != 1 {
			t.Errorf("expected 1 success, got %f", successes)
		}
	})

	t.Run("Empty Chain Succeeds Vacuously", func(t *testing.T) {
		chain := NewAllChain[string, string]("steps")
		defer chain.Close()

		element := NewElement[string, string]("untouched")
		result, err := chain.Do(context.Background(), element, Meta{})

		if err != nil {
			t.Fatalf("empty chain should not error: %v", err)
		}
		if result != element {
			t.Error("empty chain should return the element unchanged")
		}
	})

	t.Run("First Failure Stops The Chain", func(t *testing.T) {
		chain := NewAllChain("steps",
			appendStep("first", "_1"),
			Transformer("failing", func(_ context.Context, _ string, _ string, _ Meta) (string, error) {
				return "", errors.New("step broke")
			}),
			Transformer("third", func(_ context.Context, _ string, prior string, _ Meta) (string, error) {
				t.Error("third step should not run after a failure")
				return prior, nil
			}),
		)
		defer chain.Close()

		result, err := chain.Do(context.Background(), NewElement[string, string]("in"), Meta{})

		if err == nil {
			t.Fatal("expected error from the failing step")
		}

		// The first step's mutation survives the later failure.
		if result.Output != "_1" {
			t.Errorf("expected earlier mutations to stick, got %q", result.Output)
		}
		if !result.HasAny(LevelError) {
			t.Error("expected an error-level notice on the element")
		}
		notices := result.Notices()
		if len(notices) != 1 || notices[0].Message != "step broke" {
			t.Errorf("expected the step's cause as notice, got %v", notices)
		}

		var engineErr *Error[string, string]
		if !errors.As(err, &engineErr) {
			t.Fatal("expected error to be of type *morphz.Error")
		}
		expected := []Name{"steps", "failing"}
		if len(engineErr.Path) != 2 || engineErr.Path[0] != expected[0] || engineErr.Path[1] != expected[1] {
			t.Errorf("expected path %v, got %v", expected, engineErr.Path)
		}

		failures := chain.Metrics().Counter(AllChainFailuresTotal).Value()
		if failures != 1 {
			t.Errorf("expected 1 failure, got %f", failures)
		}
	})

	t.Run("Context Cancellation Stops Processing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		steps := 0
		chain := NewAllChain("steps",
			Mutable("canceller", func(_ context.Context, e *Element[string, string], _ Meta) (*Element[string, string], error) {
				steps++
				cancel() // next step sees a canceled context
				return e, nil
			}),
			Mutable("late", func(_ context.Context, e *Element[string, string], _ Meta) (*Element[string, string], error) {
				steps++
				return e, nil
			}),
		)
		defer chain.Close()

		_, err := chain.Do(ctx, NewElement[string, string]("in"), Meta{})

		if err == nil {
			t.Fatal("expected cancellation error")
		}
		if steps != 1 {
			t.Errorf("expected processing to stop after the first step, ran %d", steps)
		}
		var engineErr *Error[string, string]
		if !errors.As(err, &engineErr) {
			t.Fatal("expected error to be of type *morphz.Error")
		}
		if !engineErr.Canceled {
			t.Error("expected Canceled flag to be set")
		}
	})

	t.Run("Chains Nest", func(t *testing.T) {
		inner := NewAllChain("inner",
			appendStep("a", "_a"),
			appendStep("b", "_b"),
		)
		defer inner.Close()

		outer := NewAllChain[string, string]("outer",
			appendStep("pre", "_pre"),
			inner,
			appendStep("post", "_post"),
		)
		defer outer.Close()

		result, err := outer.Do(context.Background(), NewElement[string, string]("in"), Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Output != "_pre_a_b_post" {
			t.Errorf("expected output '_pre_a_b_post', got %q", result.Output)
		}
	})

	t.Run("Nested Failure Extends The Path", func(t *testing.T) {
		inner := NewAllChain[string, string]("inner",
			Transformer("deep", func(_ context.Context, _ string, _ string, _ Meta) (string, error) {
				return "", errors.New("deep failure")
			}),
		)
		defer inner.Close()

		outer := NewAllChain[string, string]("outer", inner)
		defer outer.Close()

		_, err := outer.Do(context.Background(), NewElement[string, string]("in"), Meta{})

		var engineErr *Error[string, string]
		if !errors.As(err, &engineErr) {
			t.Fatal("expected error to be of type *morphz.Error")
		}
		expected := []Name{"outer", "inner", "deep"}
		if !reflect.DeepEqual(engineErr.Path, expected) {
			t.Errorf("expected path %v, got %v", expected, engineErr.Path)
		}
	})

	t.Run("Recovers From Panic", func(t *testing.T) {
		chain := NewAllChain[string, string]("steps",
			Mutable("panicking", func(_ context.Context, _ *Element[string, string], _ Meta) (*Element[string, string], error) {
				panic("step exploded")
			}),
		)
		defer chain.Close()

		element := NewElement[string, string]("in")
		result, err := chain.Do(context.Background(), element, Meta{})

		if err == nil {
			t.Fatal("expected panic to surface as an error")
		}
		if result == nil {
			t.Fatal("expected an element back after a panic")
		}
	})
}

func TestAllChainHooks(t *testing.T) {
	t.Run("Step And Completion Events", func(t *testing.T) {
		var stepEvents []AllChainEvent
		var completeEvents []AllChainEvent
		var mu sync.Mutex

		chain := NewAllChain("steps",
			appendStep("first", "_1"),
			appendStep("second", "_2"),
		)
		defer chain.Close()

		if err := chain.OnStepComplete(func(_ context.Context, event AllChainEvent) error {
			mu.Lock()
			stepEvents = append(stepEvents, event)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("failed to register hook: %v", err)
		}

		if err := chain.OnAllComplete(func(_ context.Context, event AllChainEvent) error {
			mu.Lock()
			completeEvents = append(completeEvents, event)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("failed to register hook: %v", err)
		}

		_, err := chain.Do(context.Background(), NewElement[string, string]("in"), Meta{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Wait for async hooks
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()

		if len(stepEvents) != 2 {
			t.Fatalf("expected 2 step events, got %d", len(stepEvents))
		}
		for _, event := range stepEvents {
			if !event.Success {
				t.Errorf("step %d: expected success", event.StepNumber)
			}
			if event.TotalSteps != 2 {
				t.Errorf("step %d: expected 2 total steps, got %d", event.StepNumber, event.TotalSteps)
			}
		}

		if len(completeEvents) != 1 {
			t.Fatalf("expected 1 completion event, got %d", len(completeEvents))
		}
		if completeEvents[0].CompletedSteps != 2 {
			t.Errorf("expected 2 completed steps, got %d", completeEvents[0].CompletedSteps)
		}
	})

	t.Run("Failed Step Event Carries Error", func(t *testing.T) {
		var stepEvents []AllChainEvent
		var mu sync.Mutex

		chain := NewAllChain[string, string]("steps",
			Transformer("failing", func(_ context.Context, _ string, _ string, _ Meta) (string, error) {
				return "", errors.New("nope")
			}),
		)
		defer chain.Close()

		if err := chain.OnStepComplete(func(_ context.Context, event AllChainEvent) error {
			mu.Lock()
			stepEvents = append(stepEvents, event)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("failed to register hook: %v", err)
		}

		_, err := chain.Do(context.Background(), NewElement[string, string]("in"), Meta{})
		if err == nil {
			t.Fatal("expected error")
		}

		// Wait for async hooks
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()

		if len(stepEvents) != 1 {
			t.Fatalf("expected 1 step event, got %d", len(stepEvents))
		}
		if stepEvents[0].Success {
			t.Error("expected success=false on the failed step event")
		}
		if stepEvents[0].Error == nil {
			t.Error("expected error on the failed step event")
		}
	})
}
