package sample

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeObject(t *testing.T) {
	s, err := Decode(`{"a":1}`, 42)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Sample{Timestamp: 42, Data: NewObject(Field{Key: "a", Value: NumberLiteral("1")})}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("expected %+v, got %+v", want, s)
	}
	if f, ok := s.Numeric("a"); !ok || f != 1 {
		t.Fatalf("expected numeric a=1, got %v %v", f, ok)
	}
}

func TestDecodeUnexpectedShape(t *testing.T) {
	for _, line := range []string{`[1,2]`, `null`, `3.5`, `"text"`, `true`} {
		_, err := Decode(line, 1)
		var de *DecodeError
		if !errors.As(err, &de) || de.Kind != UnexpectedShape {
			t.Fatalf("%s: expected UnexpectedShape, got %v", line, err)
		}
		if !errors.Is(err, ErrUnexpectedShape) {
			t.Fatalf("%s: error does not match ErrUnexpectedShape", line)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{`not json`, `{"a":`, `{"a":1} trailing`, `{"a":1}{}`, `{a:1}`, ``} {
		_, err := Decode(line, 1)
		var de *DecodeError
		if !errors.As(err, &de) || de.Kind != MalformedJSON {
			t.Fatalf("%q: expected MalformedJSON, got %v", line, err)
		}
		if !errors.Is(err, ErrMalformedJSON) {
			t.Fatalf("%q: error does not match ErrMalformedJSON", line)
		}
		if de.Line != line {
			t.Fatalf("expected offending line to be kept, got %q", de.Line)
		}
	}
}

func TestDecodePreservesKeyOrderAndNesting(t *testing.T) {
	s, err := Decode(`{"z":1,"a":{"inner":[true,null,"x"]},"m":2.50}`, 7)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := s.Data.Keys(); !reflect.DeepEqual(got, []string{"z", "a", "m"}) {
		t.Fatalf("unexpected key order %v", got)
	}
	inner, _ := s.Data.Get("a")
	obj, ok := inner.Object()
	if !ok {
		t.Fatalf("expected nested object, got %s", inner.Kind())
	}
	arr, _ := obj.Get("inner")
	items, ok := arr.Items()
	if !ok || len(items) != 3 || items[1].Kind() != KindNull {
		t.Fatalf("unexpected nested array %+v", arr)
	}
	if b, ok := items[0].Boolean(); !ok || !b {
		t.Fatalf("expected true, got %+v", items[0])
	}
	if str, ok := items[2].Str(); !ok || str != "x" {
		t.Fatalf("expected \"x\", got %+v", items[2])
	}
	if _, ok := items[2].Boolean(); ok {
		t.Fatal("string reported as bool")
	}
	if _, ok := items[0].Str(); ok {
		t.Fatal("bool reported as string")
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"timestamp":7,"data":{"z":1,"a":{"inner":[true,null,"x"]},"m":2.50}}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestDecodeDuplicateKeyLastWins(t *testing.T) {
	s, err := Decode(`{"t":1,"h":5,"t":2}`, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := s.Data.Keys(); !reflect.DeepEqual(got, []string{"t", "h"}) {
		t.Fatalf("unexpected keys %v", got)
	}
	if f, _ := s.Numeric("t"); f != 2 {
		t.Fatalf("expected last value 2, got %v", f)
	}
}

func TestSampleUnmarshalRejectsNonObjectData(t *testing.T) {
	var s Sample
	if err := json.Unmarshal([]byte(`{"timestamp":1,"data":[1]}`), &s); err == nil {
		t.Fatalf("expected error for array data")
	}
	if err := json.Unmarshal([]byte(`{"timestamp":1,"data":{"t":10}}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f, ok := s.Numeric("t"); !ok || f != 10 {
		t.Fatalf("expected t=10, got %v %v", f, ok)
	}
}

func TestNumberRejectsNaN(t *testing.T) {
	if k := Number(0).Kind(); k != KindNumber {
		t.Fatalf("expected number, got %s", k)
	}
	nan := 0.0
	nan = nan / nan
	if k := Number(nan).Kind(); k != KindNull {
		t.Fatalf("expected NaN to become null, got %s", k)
	}
}
