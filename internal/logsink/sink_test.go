package logsink

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogfAppendsNewlineAndCountsBytes(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, nil)
	s.Timestamps = false

	s.Logf("hello %s", "world")

	if got := buf.String(); got != "hello world\n" {
		t.Fatalf("unexpected line: %q", got)
	}
	if s.BytesWritten() != int64(len("hello world\n")) {
		t.Fatalf("BytesWritten mismatch: %d", s.BytesWritten())
	}
}

func TestLogfPrefixesOrigin(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, nil)
	s.Timestamps = false
	s.Origin = "broker"

	s.Logf("tick")

	if got := buf.String(); got != "broker: tick\n" {
		t.Fatalf("unexpected line: %q", got)
	}
}

func TestLogfDropsOversizedLine(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, nil)
	s.Timestamps = false

	s.Logf("%s", strings.Repeat("x", maxLine+1))

	if buf.Len() != 0 {
		t.Fatalf("expected an oversized line to be dropped, got %d bytes", buf.Len())
	}
	if s.BytesWritten() != 0 {
		t.Fatalf("expected no bytes counted for a dropped line, got %d", s.BytesWritten())
	}
}
