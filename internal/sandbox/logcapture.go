package sandbox

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
)

const ringCapacity = 2000

// logCapture is a per-sandbox ring buffer of the last N captured lines
// backed by an append-only file on disk, plus a fan-out of live
// subscribers for streamLogs (spec §4.4: "restartable from now; does not
// replay history"). Grounded on the teacher's adapters/cli/base.go log
// tailing idiom, replacing its file-watch-by-polling with a direct
// io.Writer fan-out since this process is itself the line producer.
type logCapture struct {
	mu   sync.Mutex
	ring []string
	head int
	size int

	file *os.File
	subs map[int]chan string
	next int
}

func newLogCapture(projectRoot string) (*logCapture, error) {
	dir := filepath.Join(projectRoot, ".sandbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "app.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &logCapture{
		ring: make([]string, ringCapacity),
		file: f,
		subs: make(map[int]chan string),
	}, nil
}

// Append records one captured line, interleaving stdout and stderr in
// capture order (spec §4.4).
func (c *logCapture) Append(line string) {
	c.mu.Lock()
	c.ring[(c.head+c.size)%ringCapacity] = line
	if c.size < ringCapacity {
		c.size++
	} else {
		c.head = (c.head + 1) % ringCapacity
	}
	subs := make([]chan string, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	if c.file != nil {
		_, _ = c.file.WriteString(line + "\n")
	}
	for _, ch := range subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Tail returns the last n captured lines, oldest first.
func (c *logCapture) Tail(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > c.size {
		n = c.size
	}
	out := make([]string, n)
	start := c.head + c.size - n
	for i := 0; i < n; i++ {
		out[i] = c.ring[(start+i)%ringCapacity]
	}
	return out
}

// Subscribe registers a live line feed starting from now; the caller must
// call Unsubscribe when done consuming.
func (c *logCapture) Subscribe() (int, <-chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	ch := make(chan string, 64)
	c.subs[id] = ch
	return id, ch
}

func (c *logCapture) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *logCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// noopLogCapture backs an adopted orphan entry until its process output is
// reattached; it discards Append calls and returns an empty Tail.
func noopLogCapture() *logCapture {
	return &logCapture{ring: make([]string, ringCapacity), subs: make(map[int]chan string)}
}

// scanInto pumps lines from r into capture, prefixing with stream so
// stdout/stderr interleave identifiably in capture order.
func scanInto(capture *logCapture, stream string, r *bufio.Scanner) {
	for r.Scan() {
		capture.Append("[" + stream + "] " + r.Text())
	}
}
