package logger

import (
	"bytes"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLevelsAndFlush(t *testing.T) {
	var buf syncBuffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	SetPrefix("test")
	SetLevel("info")

	Debugf("hidden %d", 1)
	Infof("shown conv=%s", "c1")
	Warnf("careful")
	Flush(time.Second)

	assert.Eventually(t, func() bool { return strings.Contains(buf.String(), "WARN: careful") }, time.Second, 5*time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, "[test] shown conv=c1")
	assert.Contains(t, out, "WARN: careful")
	assert.False(t, strings.Contains(out, "hidden"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, levelDebug, parseLevel("debug"))
	assert.Equal(t, levelWarn, parseLevel("error"))
	assert.Equal(t, levelInfo, parseLevel(""))
}
