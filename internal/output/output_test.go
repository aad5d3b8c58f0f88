package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Lines(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Success("indexed 10 files")
	w.Warning("reranker unavailable")
	w.Infof("elapsed %dms", 42)

	out := buf.String()
	assert.Contains(t, out, "✓ indexed 10 files")
	assert.Contains(t, out, "! reranker unavailable")
	assert.Contains(t, out, "elapsed 42ms")
}

func TestWriter_ResultAndBlock(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Result(1, 0.8125, "refund policy overview")
	w.Block("first line\nsecond line")

	out := buf.String()
	assert.Contains(t, out, " 1. 0.8125  refund policy overview")
	assert.Contains(t, out, "    first line")
	assert.Contains(t, out, "    second line")
}
