// File: internal/pool/pool.go
// Line-oriented resource pools: a FIFO queue of consumable identities and a
// read-only pool of claim-target URLs. Both are plain newline-delimited files
// rewritten wholesale on mutation; the single-process-at-a-time assumption is
// a stated design constraint, so no file locking is attempted.
package pool

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// Queue is an ordered sequence of identities (email addresses) backed by a
// text file. The first non-empty line is the entry in flight. Entries are
// removed only after a successful submission, never before and never on
// failure, which keeps a crashed or failed run safely replayable.
type Queue struct {
	path string
}

// NewQueue returns a queue over the given file path. The file may not exist
// yet; an absent file behaves as an empty queue.
func NewQueue(path string) *Queue {
	return &Queue{path: path}
}

// Peek returns the first non-empty entry without mutating the queue.
func (q *Queue) Peek() (string, bool) {
	lines, err := readNonEmptyLines(q.path)
	if err != nil || len(lines) == 0 {
		return "", false
	}
	return lines[0], true
}

// Remove deletes the first line matching entry and rewrites the file
// synchronously. Only one occurrence is removed; duplicates are the caller's
// responsibility. Removing an entry that is not present is a no-op.
func (q *Queue) Remove(entry string) error {
	lines, err := readNonEmptyLines(q.path)
	if err != nil {
		return fmt.Errorf("reading queue file: %w", err)
	}

	removed := false
	kept := make([]string, 0, len(lines))
	for _, ln := range lines {
		if !removed && ln == entry {
			removed = true
			continue
		}
		kept = append(kept, ln)
	}

	out := strings.Join(kept, "\n")
	if len(kept) > 0 {
		out += "\n"
	}
	if err := os.WriteFile(q.path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("rewriting queue file: %w", err)
	}
	return nil
}

// Len reports the number of non-empty entries.
func (q *Queue) Len() int {
	lines, err := readNonEmptyLines(q.path)
	if err != nil {
		return 0
	}
	return len(lines)
}

// Entries returns a copy of all non-empty entries in order.
func (q *Queue) Entries() []string {
	lines, err := readNonEmptyLines(q.path)
	if err != nil {
		return nil
	}
	return lines
}

// TargetPool is an unordered, read-only set of claim-target URLs with a fixed
// fallback when the pool is empty or unreadable.
type TargetPool struct {
	path     string
	fallback string
	// pickFn allows tests to pin the random selection.
	pickFn func(n int) int
}

// NewTargetPool returns a pool over the given file with the given fallback URL.
func NewTargetPool(path, fallback string) *TargetPool {
	return &TargetPool{path: path, fallback: fallback, pickFn: rand.Intn}
}

// Pick selects one target uniformly at random, or the fallback URL when the
// pool has no usable entries. The pool file is never mutated.
func (p *TargetPool) Pick() string {
	links, err := readNonEmptyLines(p.path)
	if err != nil || len(links) == 0 {
		return p.fallback
	}
	return links[p.pickFn(len(links))]
}

// readNonEmptyLines reads the file and returns its trimmed, non-empty lines.
// A missing file yields an empty slice and no error.
func readNonEmptyLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	for _, ln := range strings.Split(string(data), "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines, nil
}
