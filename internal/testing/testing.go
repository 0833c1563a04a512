// package testing contains shared testing utilities
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
)

// MemoryRemote is an in-memory [services.RemoteStore] holding a JSON tree.
//
// Failures can be injected for the whole store ([MemoryRemote.SetOffline]) or
// for a path prefix ([MemoryRemote.FailPath]). Every call is counted by path.
type MemoryRemote struct {
	mu       sync.Mutex
	root     map[string]any
	offline  bool
	delay    time.Duration
	failures map[string]error
	calls    map[string]int
	probes   map[string]int
}

func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		root:     map[string]any{},
		failures: map[string]error{},
		calls:    map[string]int{},
		probes:   map[string]int{},
	}
}

// Set stores v at path, replacing whatever was there. A nil v deletes the node.
func (m *MemoryRemote) Set(path string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var node any
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("memory remote: cannot encode %s: %v", path, err))
		}
		if err := json.Unmarshal(data, &node); err != nil {
			panic(fmt.Sprintf("memory remote: cannot decode %s: %v", path, err))
		}
	}

	segments := strings.Split(services.Join(path), "/")
	parent := m.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			parent[seg] = child
		}
		parent = child
	}

	last := segments[len(segments)-1]
	if node == nil {
		delete(parent, last)
		return
	}
	parent[last] = node
}

// SetRaw stores a raw JSON document at path.
func (m *MemoryRemote) SetRaw(path, doc string) {
	m.Set(path, json.RawMessage(doc))
}

// SetOffline makes every call fail with a transport error.
func (m *MemoryRemote) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetDelay makes every call wait d or until its context is done.
func (m *MemoryRemote) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailPath makes calls to prefix (and below) return err. A nil err clears the failure.
func (m *MemoryRemote) FailPath(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, services.Join(prefix))
		return
	}
	m.failures[services.Join(prefix)] = err
}

// Calls returns how many calls were made against path.
func (m *MemoryRemote) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[services.Join(path)]
}

// ExistsCalls returns how many of the calls against path were existence checks.
func (m *MemoryRemote) ExistsCalls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes[services.Join(path)]
}

// TotalCalls returns the number of calls made against any path.
func (m *MemoryRemote) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MemoryRemote) Get(ctx context.Context, path string, out any) (bool, error) {
	node, err := m.lookup(ctx, path)
	if err != nil {
		return false, err
	}
	if node == nil {
		return false, nil
	}
	if out != nil {
		data, _ := json.Marshal(node)
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("%w: %s: %v", shared.ErrParseFailure, path, err)
		}
	}
	return true, nil
}

func (m *MemoryRemote) Scan(ctx context.Context, path string, opts services.ScanOpts) ([]services.Node, error) {
	node, err := m.lookup(ctx, path)
	if err != nil {
		return nil, err
	}

	nodes := []services.Node{}
	switch v := node.(type) {
	case nil:
	case map[string]any:
		for k, child := range v {
			if child == nil {
				continue
			}
			data, _ := json.Marshal(child)
			nodes = append(nodes, services.Node{Key: k, Value: data})
		}
	case []any:
		for i, child := range v {
			if child == nil {
				continue
			}
			data, _ := json.Marshal(child)
			nodes = append(nodes, services.Node{Key: strconv.Itoa(i), Value: data})
		}
	default:
		return nil, fmt.Errorf("%w: %s is a scalar", shared.ErrParseFailure, path)
	}

	sort.Slice(nodes, func(i, j int) bool { return services.KeyLess(nodes[i].Key, nodes[j].Key) })
	if opts.StartAt != "" {
		start := sort.Search(len(nodes), func(i int) bool { return !services.KeyLess(nodes[i].Key, opts.StartAt) })
		nodes = nodes[start:]
	}
	if opts.Limit > 0 && len(nodes) > opts.Limit {
		nodes = nodes[:opts.Limit]
	}
	return nodes, nil
}

func (m *MemoryRemote) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	m.probes[services.Join(path)]++
	m.mu.Unlock()

	node, err := m.lookup(ctx, path)
	if err != nil {
		return false, err
	}
	return node != nil, nil
}

func (m *MemoryRemote) lookup(ctx context.Context, path string) (any, error) {
	path = services.Join(path)

	m.mu.Lock()
	m.calls[path]++
	offline, delay := m.offline, m.delay
	var injected error
	for prefix, err := range m.failures {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			injected = err
			break
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", shared.ErrTimeout, path)
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrTimeout, path)
	}
	if offline {
		return nil, fmt.Errorf("%w: memory remote offline", shared.ErrRemoteRequest)
	}
	if injected != nil {
		return nil, injected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var node any = m.root
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		switch v := node.(type) {
		case map[string]any:
			node = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, nil
			}
			node = v[i]
		default:
			return nil, nil
		}
		if node == nil {
			return nil, nil
		}
	}
	return node, nil
}

// SongDoc builds a remote song record.
func SongDoc(number, title string, lyrics ...string) map[string]any {
	verses := make([]map[string]any, 0, len(lyrics))
	for i, l := range lyrics {
		verses = append(verses, map[string]any{"label": strconv.Itoa(i + 1), "lyrics": l})
	}
	return map[string]any{"number": number, "title": title, "verses": verses}
}

// SongTree builds a key-map partition of songs numbered from..to with the given title prefix.
func SongTree(prefix string, from, to int) map[string]any {
	tree := make(map[string]any, to-from+1)
	for i := from; i <= to; i++ {
		n := strconv.Itoa(i)
		tree[n] = SongDoc(n, prefix+" "+n, "verse")
	}
	return tree
}

// FakeClock is a settable time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
