package tailclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/irskep/persistproc/internal/clock"
)

// tailer is the "tail thread" of spec §4.8 step 6: seeks to end-of-file
// and polls for new lines, rendering raw or filtered according to mode,
// with a buffer mode toggled during interactive prompts so prompt text
// never interleaves with child output.
//
// Grounded on the original's tail_worker (poll readline with a 0.1s
// sleep on no-data) re-expressed as a goroutine cancelled via context
// instead of threading.Event.
type tailer struct {
	path string
	raw  bool
	out  io.Writer

	mu        sync.Mutex
	buffering bool
	buffered  []string
}

func newTailer(path string, raw bool, out io.Writer) *tailer {
	return &tailer{path: path, raw: raw, out: out}
}

// Start launches the tail goroutine. It returns immediately; ctx
// cancellation stops the goroutine.
func (t *tailer) Start(ctx context.Context) {
	go t.run(ctx)
}

// SetBuffering toggles buffer mode. Disabling it flushes anything
// accumulated while buffering was on.
func (t *tailer) SetBuffering(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buffering && !on {
		for _, line := range t.buffered {
			fmt.Fprint(t.out, line)
		}
		t.buffered = nil
	}
	t.buffering = on
}

func (t *tailer) run(ctx context.Context) {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if line != "" {
				t.emit(line)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		t.emit(line)
	}
}

func (t *tailer) emit(line string) {
	rendered, ok := t.render(line)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buffering {
		t.buffered = append(t.buffered, rendered)
		return
	}
	fmt.Fprint(t.out, rendered)
}

func (t *tailer) render(line string) (string, bool) {
	if t.raw {
		return line, true
	}
	trimmed := strings.TrimRight(line, "\n")
	rest, ok := stripTimestamp(trimmed)
	if !ok {
		return line, true
	}
	if strings.HasPrefix(rest, "[SYSTEM]") {
		return "", false
	}
	return rest + "\n", true
}

// stripTimestamp removes the leading "<Clock.now()> " prefix every
// log line carries (spec §6 log-line format), returning the remainder.
func stripTimestamp(line string) (string, bool) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return line, false
	}
	if !clock.LooksLikeTimestamp(line[:idx]) {
		return line, false
	}
	return line[idx+1:], true
}
