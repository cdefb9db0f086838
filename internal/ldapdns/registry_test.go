/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import "testing"

func TestRegistryAddRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	zi := &ZoneInfo{Name: "example.com."}
	if err := r.Add(zi); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(&ZoneInfo{Name: "example.com."}); !IsKind(err, KindAlreadyExists) {
		t.Fatalf("expected KindAlreadyExists on duplicate Add, got %v", err)
	}
}

func TestRegistryLookupExactNormalizesFQDN(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(&ZoneInfo{Name: "example.com"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := r.LookupExact("example.com."); !ok {
		t.Fatal("expected LookupExact to find zone registered without trailing dot")
	}
}

func TestRegistryLookupContainingFindsDeepestAncestor(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(&ZoneInfo{Name: "example.com."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(&ZoneInfo{Name: "sub.example.com."}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	zi, matched, _, ok := r.LookupContaining("www.sub.example.com.")
	if !ok {
		t.Fatal("expected a containing zone to be found")
	}
	if matched != "sub.example.com." {
		t.Errorf("matched = %q, want the deepest ancestor sub.example.com.", matched)
	}
	if zi.Name != "sub.example.com." {
		t.Errorf("zi.Name = %q, want sub.example.com.", zi.Name)
	}
}

func TestRegistryLookupContainingMiss(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(&ZoneInfo{Name: "example.com."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, _, _, ok := r.LookupContaining("www.other.org."); ok {
		t.Fatal("expected no containing zone for unrelated name")
	}
}

func TestRegistryDeleteByName(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(&ZoneInfo{Name: "example.com."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	r.DeleteByName("example.com.")
	if _, ok := r.LookupExact("example.com."); ok {
		t.Fatal("expected zone to be gone after DeleteByName")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryIterAll(t *testing.T) {
	r := NewRegistry()
	names := []string{"a.com.", "b.com.", "c.com."}
	for _, n := range names {
		if err := r.Add(&ZoneInfo{Name: n}); err != nil {
			t.Fatalf("Add(%s): %v", n, err)
		}
	}
	if got := len(r.IterAll()); got != len(names) {
		t.Errorf("IterAll returned %d zones, want %d", got, len(names))
	}
}
