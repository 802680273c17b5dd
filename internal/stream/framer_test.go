package stream

import (
	"reflect"
	"strings"
	"testing"
)

func drain(f *LineFramer) []string {
	var out []string
	for {
		line, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, line)
	}
}

func TestFramerSplitsLines(t *testing.T) {
	f := NewLineFramer(0)
	f.Feed([]byte("{\"a\":1}\n  \n{\"b\":2}\r\n{\"c\""))

	got := drain(f)
	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if f.Buffered() != len(`{"c"`) {
		t.Fatalf("expected partial line to stay buffered, got %d bytes", f.Buffered())
	}

	f.Feed([]byte(":3}\n"))
	if got := drain(f); !reflect.DeepEqual(got, []string{`{"c":3}`}) {
		t.Fatalf("expected continued line, got %v", got)
	}
}

func TestFramerChunkBoundariesMatchWholeFeed(t *testing.T) {
	text := "{\"temp\":21.5,\"label\":\"café\"}\n" +
		"{\"温度\":22}\n" +
		"\n" +
		"  {\"emoji\":\"🌡\"}  \n" +
		"{\"tail\":\"unterminated é"

	whole := NewLineFramer(0)
	whole.Feed([]byte(text))
	want := drain(whole)
	if len(want) != 3 {
		t.Fatalf("expected 3 complete lines, got %v", want)
	}

	raw := []byte(text)
	for size := 1; size <= 7; size++ {
		f := NewLineFramer(0)
		var got []string
		for start := 0; start < len(raw); start += size {
			end := start + size
			if end > len(raw) {
				end = len(raw)
			}
			f.Feed(raw[start:end])
			got = append(got, drain(f)...)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: expected %q, got %q", size, want, got)
		}
	}

	// every single split point, including inside multi-byte runes
	for cut := 0; cut <= len(raw); cut++ {
		f := NewLineFramer(0)
		f.Feed(raw[:cut])
		got := drain(f)
		f.Feed(raw[cut:])
		got = append(got, drain(f)...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cut at %d: expected %q, got %q", cut, want, got)
		}
	}
}

func TestFramerResetDropsUnterminatedFragment(t *testing.T) {
	f := NewLineFramer(0)
	f.Feed([]byte("{\"a\":1}\n{\"partial\":"))
	if got := drain(f); len(got) != 1 {
		t.Fatalf("expected one line, got %v", got)
	}
	if dropped := f.Reset(); dropped != len(`{"partial":`) {
		t.Fatalf("expected fragment to be dropped, got %d bytes", dropped)
	}
	if f.Buffered() != 0 {
		t.Fatalf("expected empty framer after reset")
	}
	f.Feed([]byte("1}\n"))
	if got := drain(f); !reflect.DeepEqual(got, []string{"1}"}) {
		t.Fatalf("fragment survived reset: %v", got)
	}
}

func TestFramerInvalidBytesBecomeReplacement(t *testing.T) {
	f := NewLineFramer(0)
	f.Feed([]byte{'{', '"', 'x', '"', ':', '"', 0xff, '"', '}', '\n'})
	got := drain(f)
	if len(got) != 1 || !strings.Contains(got[0], "�") {
		t.Fatalf("expected replacement character, got %q", got)
	}
}

func TestFramerOverflowDropsOverlongLine(t *testing.T) {
	f := NewLineFramer(16)
	f.Feed([]byte(strings.Repeat("x", 40)))
	if f.Overflows() != 1 {
		t.Fatalf("expected one overflow, got %d", f.Overflows())
	}
	if f.Buffered() != 0 {
		t.Fatalf("expected overflowed text to be dropped, got %d", f.Buffered())
	}
	// The rest of the overlong line is skipped through its newline.
	f.Feed([]byte(strings.Repeat("y", 40)))
	if f.Buffered() != 0 {
		t.Fatalf("expected tail of overlong line to be dropped, got %d", f.Buffered())
	}
	f.Feed([]byte("tail\n{\"ok\":1}\n"))
	got := drain(f)
	if !reflect.DeepEqual(got, []string{`{"ok":1}`}) {
		t.Fatalf("unexpected lines after overflow %v", got)
	}
	if f.Overflows() != 1 {
		t.Fatalf("expected one overflow for one overlong line, got %d", f.Overflows())
	}
}

func TestFramerOverflowResumesAfterNewline(t *testing.T) {
	f := NewLineFramer(8)
	f.Feed([]byte("{\"a\":1}\n" + strings.Repeat("z", 20)))
	f.Feed([]byte("zzz\n{\"b\":2}\n"))
	got := drain(f)
	if !reflect.DeepEqual(got, []string{`{"a":1}`, `{"b":2}`}) {
		t.Fatalf("unexpected lines %v", got)
	}

	// Reset clears the skip so a new stream starts clean.
	f.Feed([]byte(strings.Repeat("z", 20)))
	f.Reset()
	f.Feed([]byte("{\"c\":3}\n"))
	if got := drain(f); !reflect.DeepEqual(got, []string{`{"c":3}`}) {
		t.Fatalf("expected framer to resume after reset, got %v", got)
	}
}
