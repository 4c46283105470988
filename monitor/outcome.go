package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/sitediff/diff"
	"github.com/hazyhaar/sitediff/sites"
)

// Outcome is the terminal state of one check.
type Outcome int

const (
	// FetchFailed: the page could not be retrieved. The snapshot is untouched.
	FetchFailed Outcome = iota + 1
	// FirstRun: no snapshot existed; the prepared body was stored.
	FirstRun
	// Unchanged: the stored body equals the fresh one.
	Unchanged
	// Changed: a diff image was broadcast and the snapshot replaced.
	Changed
	// ChangeFailed: comparing, rendering, notifying or storing failed. The
	// snapshot is untouched so the change is retried next cycle.
	ChangeFailed
)

var outcomeNames = map[Outcome]string{
	FetchFailed:  "FetchFailed",
	FirstRun:     "FirstRun",
	Unchanged:    "Unchanged",
	Changed:      "Changed",
	ChangeFailed: "ChangeFailed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Failed reports whether the outcome needs operator attention.
func (o Outcome) Failed() bool { return o == FetchFailed || o == ChangeFailed }

// Result describes one check of one site.
type Result struct {
	URL      string        `json:"url"`
	Kind     string        `json:"kind"`
	Key      string        `json:"key"`
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Title    string        `json:"title,omitempty"`
	Stats    diff.Stats    `json:"stats"`
	Cropped  bool          `json:"cropped,omitempty"`
	Image    string        `json:"image,omitempty"` // kept diff image path
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

func newResult(site sites.Site, key string, at time.Time) Result {
	return Result{URL: site.URL, Kind: site.Kind, Key: key, At: at}
}

// Report summarises one batch.
type Report struct {
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Counts   map[Outcome]int `json:"counts"`
	Results  []Result        `json:"results"`
	// Skipped counts sites not checked because the context ended.
	Skipped int `json:"skipped,omitempty"`
}

// Count returns how many checks ended in o.
func (r Report) Count(o Outcome) int { return r.Counts[o] }

// Failures returns the failed results.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome.Failed() {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) add(res Result) {
	if r.Counts == nil {
		r.Counts = make(map[Outcome]int)
	}
	r.Counts[res.Outcome]++
	r.Results = append(r.Results, res)
}

// sortResults orders results by URL for stable listings.
func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].URL < rs[j].URL })
}
