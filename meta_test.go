package morphz

import "testing"

func TestMetaClone(t *testing.T) {
	t.Run("Copies Entries", func(t *testing.T) {
		proto := Meta{"support": "b", "weight": 2}
		clone := proto.Clone()

		if len(clone) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(clone))
		}
		if clone["support"] != "b" || clone["weight"] != 2 {
			t.Errorf("clone entries diverge from prototype: %v", clone)
		}
	})

	t.Run("Writes Do Not Leak Back", func(t *testing.T) {
		proto := Meta{"support": "b"}
		clone := proto.Clone()

		clone["support"] = "z"
		clone["extra"] = true

		if proto["support"] != "b" {
			t.Errorf("prototype mutated through clone: %v", proto)
		}
		if _, ok := proto["extra"]; ok {
			t.Error("clone write leaked into prototype")
		}
	})

	t.Run("Nil Clones To Writable Map", func(t *testing.T) {
		var proto Meta
		clone := proto.Clone()

		if clone == nil {
			t.Fatal("expected a non-nil clone from nil meta")
		}

		// Must not panic.
		clone["key"] = "value"
		if clone["key"] != "value" {
			t.Errorf("expected writable clone, got %v", clone)
		}
	})
}
