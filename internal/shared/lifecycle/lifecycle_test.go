package lifecycle

import (
	"errors"
	"testing"
)

func testMachine() Machine {
	return Machine{
		Initial: "draft",
		Transitions: map[State]map[Event]State{
			"draft": {
				"sealed":  "sealed",
				"revoked": "revoked",
			},
			"sealed": {
				"published":     "published",
				"revoked":       "revoked",
				"trustee_added": "sealed",
			},
		},
	}
}

func TestApplyFollowsDeclaredEdge(t *testing.T) {
	m := testMachine()
	next, err := m.Apply("draft", "sealed")
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if next != "sealed" {
		t.Fatalf("next state = %q, want sealed", next)
	}
}

func TestApplySelfLoopStaysInState(t *testing.T) {
	m := testMachine()
	next, err := m.Apply("sealed", "trustee_added")
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if next != "sealed" {
		t.Fatalf("next state = %q, want sealed", next)
	}
}

func TestApplyRejectsUndeclaredEdge(t *testing.T) {
	m := testMachine()
	if _, err := m.Apply("draft", "published"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestApplyRejectsTerminalState(t *testing.T) {
	m := testMachine()
	if _, err := m.Apply("published", "revoked"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestTerminal(t *testing.T) {
	m := testMachine()
	if m.Terminal("draft") {
		t.Fatal("draft reported terminal")
	}
	if !m.Terminal("published") {
		t.Fatal("published not reported terminal")
	}
	if !m.Terminal("revoked") {
		t.Fatal("revoked not reported terminal")
	}
}

func TestKnowsCoversSourcesTargetsAndInitial(t *testing.T) {
	m := testMachine()
	for _, state := range []State{"draft", "sealed", "published", "revoked"} {
		if !m.Knows(state) {
			t.Fatalf("Knows(%q) = false", state)
		}
	}
	if m.Knows("archived") {
		t.Fatal("Knows reported an undeclared state")
	}
}
