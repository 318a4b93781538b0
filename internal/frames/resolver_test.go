package frames

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func buildGraph(t *testing.T, pairs ...[2]FrameID) *Store {
	t.Helper()
	s := NewStore()
	for _, p := range pairs {
		mustUpsert(t, s, p[0], p[1], Identity(), time.Time{})
	}
	return s
}

func TestResolve_Paths(t *testing.T) {
	// 1000 - 1 - 1001 - 2 - 1002, with 1000 - 2 and 1001 - 1004.
	s := buildGraph(t,
		[2]FrameID{"1000", "1"},
		[2]FrameID{"1001", "1"},
		[2]FrameID{"1002", "2"},
		[2]FrameID{"1000", "2"},
		[2]FrameID{"1001", "2"},
		[2]FrameID{"1001", "1004"},
	)
	g := NewGraph(s.Snapshot(), time.Time{})

	tests := []struct {
		name string
		q    Query
		want Path
	}{
		{"direct", Query{From: "1000", To: "1"}, Path{"1000", "1"}},
		{"two hops", Query{From: "1001", To: "1000"}, Path{"1001", "1", "1000"}},
		{"hint", Query{From: "1000", Hints: []FrameID{"2"}, To: "1004"}, Path{"1000", "2", "1001", "1004"}},
		{"hint forces detour", Query{From: "1000", Hints: []FrameID{"1001"}, To: "1"}, Path{"1000", "1", "1001", "1"}},
		{"repeated hint", Query{From: "1000", Hints: []FrameID{"2", "2"}, To: "1002"}, Path{"1000", "2", "1002"}},
		{"hint equals from", Query{From: "1000", Hints: []FrameID{"1000"}, To: "1"}, Path{"1000", "1"}},
		{"same frame", Query{From: "1004", To: "1004"}, Path{"1004"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(g, tt.q)
			if err != nil {
				t.Fatalf("Resolve(%s): %v", tt.q.Key(), err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve(%s) = %v, want %v", tt.q.Key(), got, tt.want)
			}
		})
	}
}

func TestResolve_SameFrameIgnoresGraph(t *testing.T) {
	g := NewGraph(buildGraph(t, [2]FrameID{"A", "X"}).Snapshot(), time.Time{})

	tests := []Query{
		{From: "nowhere", To: "nowhere"},
		{From: "Z", Hints: []FrameID{"A"}, To: "Z"},
		{From: "A", Hints: []FrameID{"X"}, To: "A"},
		{From: "A", Hints: []FrameID{"unseen"}, To: "A"},
	}
	for _, q := range tests {
		got, err := Resolve(g, q)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", q.Key(), err)
		}
		if !reflect.DeepEqual(got, Path{q.From}) {
			t.Errorf("%s: got %v, want [%s]", q.Key(), got, q.From)
		}
	}
}

func TestResolve_LexicographicTieBreak(t *testing.T) {
	// Two equal-length routes from S to T: via "b" and via "a".
	s := buildGraph(t,
		[2]FrameID{"S", "b"},
		[2]FrameID{"b", "T"},
		[2]FrameID{"S", "a"},
		[2]FrameID{"a", "T"},
		[2]FrameID{"S", "c"},
		[2]FrameID{"c", "d"},
		[2]FrameID{"d", "T"},
	)
	want := Path{"S", "a", "T"}
	for i := 0; i < 20; i++ {
		got, err := Resolve(NewGraph(s.Snapshot(), time.Time{}), Query{From: "S", To: "T"})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d: got %v, want %v", i, got, want)
		}
	}
}

func TestResolve_TieBreakAtSecondFrame(t *testing.T) {
	// S-a-y-T and S-a-x-T tie; x sorts first. S-b-w-T also ties but b > a.
	s := buildGraph(t,
		[2]FrameID{"S", "a"},
		[2]FrameID{"S", "b"},
		[2]FrameID{"a", "y"},
		[2]FrameID{"a", "x"},
		[2]FrameID{"b", "w"},
		[2]FrameID{"w", "T"},
		[2]FrameID{"x", "T"},
		[2]FrameID{"y", "T"},
	)
	got, err := Resolve(NewGraph(s.Snapshot(), time.Time{}), Query{From: "S", To: "T"})
	if err != nil {
		t.Fatal(err)
	}
	if want := (Path{"S", "a", "x", "T"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_Errors(t *testing.T) {
	s := buildGraph(t,
		[2]FrameID{"A", "B"},
		[2]FrameID{"X", "Y"},
	)
	g := NewGraph(s.Snapshot(), time.Time{})

	tests := []struct {
		name    string
		q       Query
		kind    error
		message string
	}{
		{"unknown from", Query{From: "3000", To: "A"}, ErrUnknownFrame, `unknown frame "3000"`},
		{"unknown to", Query{From: "A", To: "C"}, ErrUnknownFrame, `unknown frame "C"`},
		{"unknown hint", Query{From: "A", Hints: []FrameID{"Q"}, To: "B"}, ErrUnknownFrame, `unknown frame "Q"`},
		{"disconnected", Query{From: "A", To: "X"}, ErrNoPath, `frames "A" and "X" are not connected`},
		{"disconnected with hint", Query{From: "A", Hints: []FrameID{"B"}, To: "Y"}, ErrNoPath, `frames "A" and "Y" are not connected`},
		{"hint off path", Query{From: "A", Hints: []FrameID{"X"}, To: "B"}, ErrInvalidHints, `invalid hints: no path from "A" to "X"`},
		{"unknown to matches no path", Query{From: "A", To: "C"}, ErrNoPath, `unknown frame "C"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(g, tt.q)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			var re *ResolveError
			if !errors.As(err, &re) {
				t.Fatalf("expected *ResolveError, got %T", err)
			}
			if err.Error() != tt.message {
				t.Errorf("message = %q, want %q", err.Error(), tt.message)
			}
		})
	}
}

func TestResolve_RemovedFrameIsNoPath(t *testing.T) {
	s := buildGraph(t,
		[2]FrameID{"A", "B"},
		[2]FrameID{"C", "D"},
	)
	s.Remove("A", "B")
	g := NewGraph(s.Snapshot(), time.Time{})

	_, err := Resolve(g, Query{From: "A", To: "C"})
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath, got %v", err)
	}
	if errors.Is(err, ErrUnknownFrame) {
		t.Errorf("A was stored before; got %v", err)
	}
	if _, err := Resolve(g, Query{From: "C", Hints: []FrameID{"B"}, To: "D"}); !errors.Is(err, ErrInvalidHints) {
		t.Errorf("expected ErrInvalidHints for an orphaned hint, got %v", err)
	}
}

func TestGraph_NeighborsIsACopy(t *testing.T) {
	s := buildGraph(t,
		[2]FrameID{"A", "B"},
		[2]FrameID{"A", "C"},
	)
	g := NewGraph(s.Snapshot(), time.Time{})

	ns := g.Neighbors("A")
	ns[0] = "Z"
	_ = append(ns[:1], "Y")
	if got := g.Neighbors("A"); !reflect.DeepEqual(got, []FrameID{"B", "C"}) {
		t.Errorf("Neighbors(A) = %v after caller mutation, want [B C]", got)
	}
}

func TestResolve_ExpiredEdgesInvisible(t *testing.T) {
	s := NewStore()
	now := time.Unix(1000, 0)
	_, _ = s.Upsert(Transform{From: "A", To: "B", T: Identity(), ValidUntil: now.Add(-time.Second)})
	_, _ = s.Upsert(Transform{From: "A", To: "C", T: Identity()})
	_, _ = s.Upsert(Transform{From: "C", To: "B", T: Identity(), ValidFrom: now.Add(-time.Minute)})

	got, err := Resolve(NewGraph(s.Snapshot(), now), Query{From: "A", To: "B"})
	if err != nil {
		t.Fatal(err)
	}
	if want := (Path{"A", "C", "B"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v (expired edge should be skipped)", got, want)
	}

	got, err = Resolve(NewGraph(s.Snapshot(), time.Time{}), Query{From: "A", To: "B"})
	if err != nil {
		t.Fatal(err)
	}
	if want := (Path{"A", "B"}); !reflect.DeepEqual(got, want) {
		t.Errorf("zero time view: got %v, want %v", got, want)
	}
}
