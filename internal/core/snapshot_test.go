package core

import (
	"context"
	"errors"
	"testing"
)

func TestSnapshotEqual(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", `{"a":1}`, `{"a":1}`, true},
		{"key order", `{"a":1,"b":[1,2]}`, `{"b":[1,2],"a":1}`, true},
		{"array order", `{"items":[{"t":"x"},{"t":"y"}]}`, `{"items":[{"t":"y"},{"t":"x"}]}`, true},
		{"nested array order", `{"a":[[2,1],[3]]}`, `{"a":[[3],[1,2]]}`, true},
		{"whitespace", "{ \"a\" : 1 }", `{"a":1}`, true},
		{"value differs", `{"a":1}`, `{"a":2}`, false},
		{"multiset differs", `{"a":[1,1,2]}`, `{"a":[1,2,2]}`, false},
		{"extra element", `{"a":[1]}`, `{"a":[1,1]}`, false},
		{"empty vs populated", `{"items":[]}`, `{"items":[{"t":"x"}]}`, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, err := ParseSnapshot([]byte(tc.a))
			if err != nil {
				t.Fatalf("parse a: %v", err)
			}
			b, err := ParseSnapshot([]byte(tc.b))
			if err != nil {
				t.Fatalf("parse b: %v", err)
			}
			if got := a.Equal(b); got != tc.want {
				t.Fatalf("Equal() = %v, want %v", got, tc.want)
			}
			if got := b.Equal(a); got != tc.want {
				t.Fatalf("Equal() not symmetric")
			}
			if tc.want && a.Hash() != b.Hash() {
				t.Fatalf("equal snapshots hash differently")
			}
		})
	}
}

func TestNoPriorDataNeverEqualsRealSnapshot(t *testing.T) {
	t.Parallel()
	empty := MustSnapshot(map[string]any{})
	if NoPriorData.Equal(empty) || empty.Equal(NoPriorData) {
		t.Fatal("NoPriorData must not equal an empty snapshot")
	}
	if !NoPriorData.Equal(Snapshot{}) {
		t.Fatal("NoPriorData should equal the zero snapshot")
	}
	if NoPriorData.Present() || NoPriorData.Bytes() != nil || NoPriorData.Hash() != 0 {
		t.Fatal("NoPriorData should be absent")
	}
}

func TestSnapshotCanonicalBytesKeepArrayOrder(t *testing.T) {
	t.Parallel()
	s, err := ParseSnapshot([]byte(`{"z":"<b>","a":[3,1,2]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(s.Bytes()), `{"a":[3,1,2],"z":"<b>"}`; got != want {
		t.Fatalf("Bytes() = %s, want %s", got, want)
	}
	var out struct {
		A []int `json:"a"`
	}
	if err := s.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.A) != 3 || out.A[0] != 3 {
		t.Fatalf("decode lost order: %v", out.A)
	}
}

func TestParseSnapshotRejectsInvalid(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "{", "null", `{"a":1} {}`} {
		if _, err := ParseSnapshot([]byte(in)); err == nil {
			t.Fatalf("ParseSnapshot(%q) expected error", in)
		}
	}
	if _, err := NewSnapshot(nil); err == nil {
		t.Fatal("NewSnapshot(nil) expected error")
	}
	if err := NoPriorData.Decode(&struct{}{}); err == nil {
		t.Fatal("decode of NoPriorData should fail")
	}
}

func TestExtractionErrorWrapping(t *testing.T) {
	t.Parallel()
	cause := context.DeadlineExceeded
	err := NewExtractionError("unity", cause)
	var ee *ExtractionError
	if !errors.As(err, &ee) || ee.Source != "unity" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("cause not unwrapped")
	}
	if again := NewExtractionError("unity", err); again != err {
		t.Fatal("double wrap")
	}
	if NewExtractionError("unity", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestOutcome(t *testing.T) {
	t.Parallel()
	if !Delivered(1).OK() {
		t.Fatal("Delivered should be OK")
	}
	if o := Failed(2, errors.New("x")); o.OK() || o.Recipient != 2 {
		t.Fatalf("unexpected outcome %+v", o)
	}
}
