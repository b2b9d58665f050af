package morphz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMutable(t *testing.T) {
	t.Run("Edits Element In Place", func(t *testing.T) {
		normalize := Mutable("normalize", func(_ context.Context, e *Element[string, int], _ Meta) (*Element[string, int], error) {
			e.Input = strings.TrimPrefix(e.Input, "legacy__")
			return e, nil
		})

		if normalize.Name() != "normalize" {
			t.Errorf("expected name 'normalize', got %q", normalize.Name())
		}
		if normalize.Kind() != KindMutable {
			t.Errorf("expected kind %q, got %q", KindMutable, normalize.Kind())
		}

		element := NewElement[string, int]("legacy__score")
		result, err := normalize.Do(context.Background(), element, Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != element {
			t.Error("expected the same element back")
		}
		if result.Input != "score" {
			t.Errorf("expected input 'score', got %q", result.Input)
		}
	})

	t.Run("Nil Return Keeps Element", func(t *testing.T) {
		silent := Mutable("silent", func(_ context.Context, e *Element[string, int], _ Meta) (*Element[string, int], error) {
			e.Output = 42
			return nil, nil
		})

		element := NewElement[string, int]("data")
		result, err := silent.Do(context.Background(), element, Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != element {
			t.Error("nil return should fall back to the original element")
		}
		if result.Output != 42 {
			t.Errorf("expected output 42, got %d", result.Output)
		}
	})

	t.Run("Reads Meta", func(t *testing.T) {
		annotate := Mutable("annotate", func(_ context.Context, e *Element[string, int], meta Meta) (*Element[string, int], error) {
			if weight, ok := meta["weight"].(int); ok {
				e.Output = weight
			}
			return e, nil
		})

		element := NewElement[string, int]("data")
		result, err := annotate.Do(context.Background(), element, Meta{"weight": 9})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Output != 9 {
			t.Errorf("expected output 9 from meta, got %d", result.Output)
		}
	})

	t.Run("Nil Function Panics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic for nil function")
			}
		}()

		Mutable[string, int]("bad", nil)
	})
}

func TestTransformer(t *testing.T) {
	t.Run("Writes Returned Output", func(t *testing.T) {
		double := Transformer("double", func(_ context.Context, input string, _ int, _ Meta) (int, error) {
			return len(input) * 2, nil
		})

		if double.Kind() != KindTransformer {
			t.Errorf("expected kind %q, got %q", KindTransformer, double.Kind())
		}

		element := NewElement[string, int]("abc")
		result, err := double.Do(context.Background(), element, Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Output != 6 {
			t.Errorf("expected output 6, got %d", result.Output)
		}
	})

	t.Run("Receives Prior Output", func(t *testing.T) {
		addPrior := Transformer("add-prior", func(_ context.Context, input string, prior int, _ Meta) (int, error) {
			return prior + len(input), nil
		})

		element := NewElement[string, int]("abcd").WithOutput(10)
		result, err := addPrior.Do(context.Background(), element, Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Output != 14 {
			t.Errorf("expected output 14, got %d", result.Output)
		}
	})

	t.Run("Tolerates Zero Prior Output", func(t *testing.T) {
		fromScratch := Transformer("from-scratch", func(_ context.Context, input string, prior map[string]int, _ Meta) (map[string]int, error) {
			out := make(map[string]int, len(prior)+1)
			for k, v := range prior {
				out[k] = v
			}
			out[input] = -1
			return out, nil
		})

		// Output starts as a nil map; the transformer must not assume otherwise.
		element := NewElement[string, map[string]int]("p")
		result, err := fromScratch.Do(context.Background(), element, Meta{})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Output["p"] != -1 {
			t.Errorf("expected output map {p:-1}, got %v", result.Output)
		}
	})

	t.Run("Error Leaves Output Untouched", func(t *testing.T) {
		failing := Transformer("failing", func(_ context.Context, _ string, _ int, _ Meta) (int, error) {
			return 99, errors.New("derive failed")
		})

		element := NewElement[string, int]("data").WithOutput(5)
		result, err := failing.Do(context.Background(), element, Meta{})

		if err == nil {
			t.Fatal("expected error")
		}
		if result.Output != 5 {
			t.Errorf("failed transform should not write output, got %d", result.Output)
		}
	})

	t.Run("Nil Function Panics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic for nil function")
			}
		}()

		Transformer[string, int]("bad", nil)
	})
}

func TestChangeableDo(t *testing.T) {
	t.Run("Wraps Plain Errors", func(t *testing.T) {
		failing := Mutable("failing", func(_ context.Context, e *Element[string, int], _ Meta) (*Element[string, int], error) {
			return e, errors.New("boom")
		})

		element := NewElement[string, int]("data")
		before := time.Now()
		_, err := failing.Do(context.Background(), element, Meta{})

		if err == nil {
			t.Fatal("expected error")
		}
		var engineErr *Error[string, int]
		if !errors.As(err, &engineErr) {
			t.Fatal("expected error to be of type *morphz.Error")
		}
		if len(engineErr.Path) != 1 || engineErr.Path[0] != "failing" {
			t.Errorf("expected path [failing], got %v", engineErr.Path)
		}
		if engineErr.Element != element {
			t.Error("expected the failing element on the error")
		}
		if engineErr.Timestamp.Before(before) {
			t.Error("expected a fresh timestamp")
		}
	})

	t.Run("Prepends Name To Nested Error Path", func(t *testing.T) {
		inner := Mutable("inner", func(_ context.Context, e *Element[string, int], _ Meta) (*Element[string, int], error) {
			return e, errors.New("inner boom")
		})
		outer := Mutable("outer", func(ctx context.Context, e *Element[string, int], meta Meta) (*Element[string, int], error) {
			return inner.Do(ctx, e, meta)
		})

		_, err := outer.Do(context.Background(), NewElement[string, int]("data"), Meta{})

		var engineErr *Error[string, int]
		if !errors.As(err, &engineErr) {
			t.Fatal("expected error to be of type *morphz.Error")
		}
		expected := []Name{"outer", "inner"}
		if len(engineErr.Path) != 2 || engineErr.Path[0] != expected[0] || engineErr.Path[1] != expected[1] {
			t.Errorf("expected path %v, got %v", expected, engineErr.Path)
		}
	})

	t.Run("Recovers From Panic", func(t *testing.T) {
		panicking := Mutable("panicking", func(_ context.Context, _ *Element[string, int], _ Meta) (*Element[string, int], error) {
			panic("unhinged")
		})

		element := NewElement[string, int]("data")
		result, err := panicking.Do(context.Background(), element, Meta{})

		if err == nil {
			t.Fatal("expected panic to surface as an error")
		}
		if result != element {
			t.Error("expected the original element back after a panic")
		}
		var engineErr *Error[string, int]
		if !errors.As(err, &engineErr) {
			t.Fatal("expected error to be of type *morphz.Error")
		}
		if !strings.Contains(engineErr.Err.Error(), "unhinged") {
			t.Errorf("expected panic value in error, got %v", engineErr.Err)
		}
		if len(engineErr.Path) != 1 || engineErr.Path[0] != "panicking" {
			t.Errorf("expected path [panicking], got %v", engineErr.Path)
		}
	})

	t.Run("Nil Context Defaults To Background", func(t *testing.T) {
		observe := Mutable("observe", func(ctx context.Context, e *Element[string, int], _ Meta) (*Element[string, int], error) {
			if ctx == nil {
				t.Error("expected a non-nil context")
			}
			return e, nil
		})

		//nolint:staticcheck // deliberately pass nil to exercise the guard
		_, err := observe.Do(nil, NewElement[string, int]("data"), Meta{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
