package aggregator

import "time"

// State is the lifecycle of an Orchestrator.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ProviderStatus summarizes how one provider's batch went.
type ProviderStatus string

const (
	// StatusOK means the batch was fetched and processed.
	StatusOK ProviderStatus = "ok"
	// StatusEmpty means the provider answered with no articles.
	StatusEmpty ProviderStatus = "empty"
	// StatusFetchFailed means the provider call failed.
	StatusFetchFailed ProviderStatus = "fetch_failed"
	// StatusSourceMissing means no source row maps to the provider.
	StatusSourceMissing ProviderStatus = "source_missing"
	// StatusSourceInactive means the source row is disabled.
	StatusSourceInactive ProviderStatus = "source_inactive"
	// StatusStoreFailed means the source lookup itself failed.
	StatusStoreFailed ProviderStatus = "store_failed"
	// StatusCanceled means the run was canceled before the batch finished.
	StatusCanceled ProviderStatus = "canceled"
)

// ProviderStats is the per-provider slice of a run report.
type ProviderStats struct {
	Provider string         `json:"provider"`
	Status   ProviderStatus `json:"status"`
	Fetched  int            `json:"fetched"`
	Saved    int            `json:"saved"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Error    string         `json:"error,omitempty"`
}

// Stats is the report of one run. Fetch failures add one to Errors.
type Stats struct {
	RunID      string          `json:"run_id"`
	Fetched    int             `json:"fetched"`
	Saved      int             `json:"saved"`
	Skipped    int             `json:"skipped"`
	Errors     int             `json:"errors"`
	Providers  []ProviderStats `json:"providers"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Provider returns the stats of one provider.
func (s Stats) Provider(identifier string) (ProviderStats, bool) {
	for _, p := range s.Providers {
		if p.Provider == identifier {
			return p, true
		}
	}
	return ProviderStats{}, false
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomeSkipped
	outcomeFailed
)

type messageKind int

const (
	kindFetched messageKind = iota
	kindArticle
	kindFinished
)

// message is what a provider worker reports to the collector.
type message struct {
	provider    int
	kind        messageKind
	fetched     int
	outcome     outcome
	unavailable bool
	status      ProviderStatus
	err         error
}

// tally folds worker messages into Stats. Only the collector touches it.
type tally struct {
	stats       Stats
	attempted   int
	unavailable int
}

func (t *tally) add(m message) {
	p := &t.stats.Providers[m.provider]
	switch m.kind {
	case kindFetched:
		t.stats.Fetched += m.fetched
		p.Fetched += m.fetched
	case kindArticle:
		t.attempted++
		switch m.outcome {
		case outcomeSaved:
			t.stats.Saved++
			p.Saved++
		case outcomeSkipped:
			t.stats.Skipped++
			p.Skipped++
		case outcomeFailed:
			t.stats.Errors++
			p.Errors++
			if m.unavailable {
				t.unavailable++
			}
		}
	case kindFinished:
		p.Status = m.status
		if m.err != nil {
			p.Error = m.err.Error()
		}
		if m.status == StatusFetchFailed {
			t.stats.Errors++
			p.Errors++
		}
	}
}

// storageDown reports whether every article that reached storage failed
// because storage was unreachable.
func (t *tally) storageDown() bool {
	return t.attempted > 0 && t.unavailable == t.attempted
}
