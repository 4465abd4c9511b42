package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is the lifecycle state of a supervised subsystem.
type State string

const (
	// StateActive means the subsystem delivered its most recent heartbeat in time.
	StateActive State = "ACTIVE"
	// StateWaiting means no data yet, or a heartbeat was missed and a restart is pending.
	StateWaiting State = "WAITING"
	// StateFaulty means the subsystem failed for good and waits for an operator reset.
	StateFaulty State = "FAULTY"
	// StateDisabled means the subsystem is configured off and is ignored.
	StateDisabled State = "DISABLED"
)

// Status is the system-wide verdict derived from all subsystem states.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusFaulty   Status = "FAULTY"
)

// Outcome is the result a probe or watchdog reports for a subsystem.
type Outcome int

const (
	// Success is a heartbeat: the latest attempt worked.
	Success Outcome = iota
	// TransientFailure is a recoverable failure that consumes one automatic restart attempt.
	TransientFailure
	// FatalFailure is unrecoverable and moves the subsystem to FAULTY immediately.
	FatalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case TransientFailure:
		return "TransientFailure"
	case FatalFailure:
		return "FatalFailure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ParseOutcome accepts the names produced by String, case-insensitively,
// as well as the short forms "ok", "transient" and "fatal".
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok":
		return Success, nil
	case "transientfailure", "transient":
		return TransientFailure, nil
	case "fatalfailure", "fatal":
		return FatalFailure, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// Subsystem describes a unit registered with the supervisor.
type Subsystem struct {
	Name string

	// Enabled subsystems start in WAITING, the others in DISABLED.
	Enabled bool

	// Watchdog turns on heartbeat supervision: silence longer than the
	// grace period is reported as a TransientFailure.
	Watchdog bool

	// Restart is invoked asynchronously on every automatic restart attempt.
	Restart func(ctx context.Context) error
}

// Record is the state of one subsystem as seen through a snapshot.
type Record struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	Message      string    `json:"message,omitempty"`
	LastUpdate   time.Time `json:"lastUpdate"`
	RestartCount int       `json:"restartCount"`
	LastError    string    `json:"lastError,omitempty"`
}

// Snapshot is a point-in-time copy of every record plus the aggregate status.
type Snapshot struct {
	Status     Status    `json:"status"`
	Subsystems []Record  `json:"subsystems"`
	Timestamp  time.Time `json:"timestamp"`
}

// Get returns the record of the named subsystem.
func (s Snapshot) Get(name string) (Record, bool) {
	i := sort.Search(len(s.Subsystems), func(i int) bool { return s.Subsystems[i].Name >= name })
	if i < len(s.Subsystems) && s.Subsystems[i].Name == name {
		return s.Subsystems[i], true
	}
	return Record{}, false
}

// Counts returns the number of subsystems per state.
func (s Snapshot) Counts() map[State]int {
	counts := make(map[State]int, 4)
	for _, r := range s.Subsystems {
		counts[r.State]++
	}
	return counts
}

// Aggregate derives the system status from a set of records.
// DISABLED subsystems never contribute.
func Aggregate(records []Record) Status {
	status := StatusOK
	for _, r := range records {
		switch r.State {
		case StateFaulty:
			return StatusFaulty
		case StateWaiting:
			status = StatusDegraded
		}
	}
	return status
}

// Transition is emitted to hooks whenever a record changes state.
type Transition struct {
	Name   string
	From   State
	To     State
	Record Record
}

// TransitionHook observes state changes. Hooks run on the reporting goroutine
// after the store lock is released and must return quickly.
type TransitionHook func(Transition)
