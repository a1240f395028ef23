package syncengine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Outcome describes what the duplicate guard did with one incoming record.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// Stats counts per-collection outcomes of one sync pass.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Report is the partial-success summary of a pull or push pass. A pass that
// finishes with failures still returns a report; the caller decides whether
// failed keys warrant a retry.
type Report struct {
	mu sync.Mutex

	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Collections map[string]*Stats `json:"collections"`
	FailedKeys  []string          `json:"failed_keys,omitempty"`
	Ambiguous   []string          `json:"ambiguous,omitempty"`
}

func newReport() *Report {
	return &Report{
		StartedAt:   time.Now(),
		Collections: make(map[string]*Stats),
	}
}

func (r *Report) stats(collection string) *Stats {
	s, ok := r.Collections[collection]
	if !ok {
		s = &Stats{}
		r.Collections[collection] = s
	}
	return s
}

func (r *Report) add(collection string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case OutcomeCreated:
		r.stats(collection).Created++
	case OutcomeUpdated:
		r.stats(collection).Updated++
	case OutcomeSkipped:
		r.stats(collection).Skipped++
	}
}

func (r *Report) fail(collection, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats(collection).Failed++
	r.FailedKeys = append(r.FailedKeys, fmt.Sprintf("%s/%s", collection, key))
}

func (r *Report) ambiguous(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ambiguous = append(r.Ambiguous, key)
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
}

// TotalFailed returns the failure count across collections.
func (r *Report) TotalFailed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, s := range r.Collections {
		total += s.Failed
	}
	return total
}

// Summary renders a one-line-per-collection human summary.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.Collections))
	for name := range r.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		s := r.Collections[name]
		fmt.Fprintf(&b, "%-12s created=%d updated=%d skipped=%d failed=%d\n",
			name, s.Created, s.Updated, s.Skipped, s.Failed)
	}
	if len(r.Ambiguous) > 0 {
		fmt.Fprintf(&b, "ambiguous identity (retry next pass): %s\n", strings.Join(r.Ambiguous, ", "))
	}
	fmt.Fprintf(&b, "elapsed %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return b.String()
}
