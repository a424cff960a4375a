package central

import (
	"errors"
	"fmt"
	"time"

	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/wire/att"
)

// DefaultMaxRetryCount is how many times a command is issued before it is
// abandoned.
const DefaultMaxRetryCount = 3

// Outcome is what the queue did with the head record after a completion.
type Outcome int

const (
	// OutcomeIgnored: nothing was in flight, or the completion was stale.
	OutcomeIgnored Outcome = iota
	// OutcomeDone: the command succeeded and was removed.
	OutcomeDone
	// OutcomeRetry: the command failed and stays at the head for reissue.
	OutcomeRetry
	// OutcomeAbandoned: the command failed its last allowed attempt and was removed.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeRetry:
		return "retry"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "ignored"
	}
}

// decide is the retry policy: what happens to a record whose attempt just
// finished with the given result.
func decide(rec RequestRecord, success bool, maxRetry int) Outcome {
	if success {
		return OutcomeDone
	}
	if rec.Attempts >= maxRetry {
		return OutcomeAbandoned
	}
	return OutcomeRetry
}

// IssueFunc invokes the link primitive for a command. A non-nil error is a
// synchronous rejection.
type IssueFunc func(cmd Command) error

// QueueOptions configures a CommandQueue.
type QueueOptions struct {
	MaxRetryCount int // <= 0 means DefaultMaxRetryCount
	Capacity      int // maximum queued records including the head; 0 is unbounded

	// OperationTimeout arms a watchdog for every accepted issue. Zero disables it.
	OperationTimeout time.Duration
	// Expired is called from the watchdog goroutine with the ticket of the
	// record that timed out. The owner must serialize with its other queue
	// calls and then call Complete(ticket, false).
	Expired func(ticket uint64)

	Peer    string
	Prefix  string // logger prefix
	Journal journal.Journal
}

// CommandQueue serializes link operations for one connection: FIFO order,
// at most one command in flight, bounded retry.
//
// CommandQueue is not safe for concurrent use. Its owner serializes all calls
// (including the Expired callback) and must tolerate IssueFunc and retire
// hooks running inside them.
type CommandQueue struct {
	issue    IssueFunc
	opts     QueueOptions
	journal  journal.Journal
	tracker  *att.RequestTracker
	records  []RequestRecord
	inFlight bool
	closed   bool

	// advancing guards against re-entrant issue loops when a retire hook
	// enqueues.
	advancing bool
}

// NewCommandQueue returns an empty queue that issues through issue.
func NewCommandQueue(issue IssueFunc, opts QueueOptions) *CommandQueue {
	if opts.MaxRetryCount <= 0 {
		opts.MaxRetryCount = DefaultMaxRetryCount
	}
	q := &CommandQueue{
		issue:   issue,
		opts:    opts,
		journal: journal.OrNop(opts.Journal),
	}
	q.tracker = att.NewRequestTracker(opts.OperationTimeout, func(req att.PendingRequest) {
		logger.Warn(q.opts.Prefix, "⏱️  %s timed out after %s", req.Label, q.opts.OperationTimeout)
		q.journal.Record(journal.Entry{
			Time:   time.Now(),
			Source: journal.SourceCentral,
			Peer:   q.opts.Peer,
			Kind:   journal.KindTimeout,
			Detail: req.Label,
		})
		if q.opts.Expired != nil {
			q.opts.Expired(req.Ticket)
		}
	})
	return q
}

// Enqueue appends cmd and issues it if the link is idle. It returns false
// only when the queue refuses the command (closed or full).
func (q *CommandQueue) Enqueue(cmd Command) bool {
	if q.closed {
		logger.Error(q.opts.Prefix, "❌ could not enqueue %s: queue closed", cmd)
		q.record(journal.KindDrop, RequestRecord{Command: cmd}, "refused: closed")
		return false
	}
	if q.opts.Capacity > 0 && len(q.records) >= q.opts.Capacity {
		logger.Error(q.opts.Prefix, "❌ could not enqueue %s: queue full (%d)", cmd, q.opts.Capacity)
		q.record(journal.KindDrop, RequestRecord{Command: cmd}, "refused: full")
		return false
	}

	q.records = append(q.records, RequestRecord{Command: cmd})
	logger.Trace(q.opts.Prefix, "enqueued %s (depth %d)", cmd, len(q.records))
	q.advance()
	return true
}

// OnOperationCompleted reports the result of the in-flight command.
func (q *CommandQueue) OnOperationCompleted(success bool) (RequestRecord, Outcome) {
	if !q.inFlight {
		logger.Debug(q.opts.Prefix, "completion with nothing in flight, ignored")
		return RequestRecord{}, OutcomeIgnored
	}
	return q.finish(q.records[0].ticket, success)
}

// Complete reports the result of the in-flight command only if it is still
// the one identified by ticket. Stale tickets are ignored.
func (q *CommandQueue) Complete(ticket uint64, success bool) (RequestRecord, Outcome) {
	if !q.inFlight || q.records[0].ticket != ticket {
		logger.Debug(q.opts.Prefix, "stale completion for ticket %d, ignored", ticket)
		return RequestRecord{}, OutcomeIgnored
	}
	return q.finish(ticket, success)
}

func (q *CommandQueue) finish(ticket uint64, success bool) (RequestRecord, Outcome) {
	_ = q.tracker.Complete(ticket) // already cleared when the watchdog fired
	q.inFlight = false

	rec := q.records[0]
	outcome := decide(rec, success, q.opts.MaxRetryCount)
	switch outcome {
	case OutcomeDone:
		logger.Debug(q.opts.Prefix, "✅ %s completed (attempt %d)", rec.Command, rec.Attempts)
		q.retire(journal.KindComplete, true, "")
	case OutcomeAbandoned:
		logger.Warn(q.opts.Prefix, "⚠️  %s failed %d times, giving up", rec.Command, rec.Attempts)
		q.retire(journal.KindDrop, false, "retry exhausted")
	case OutcomeRetry:
		logger.Debug(q.opts.Prefix, "🔁 %s failed (attempt %d/%d), retrying", rec.Command, rec.Attempts, q.opts.MaxRetryCount)
		q.record(journal.KindRetry, rec, "")
	}
	q.advance()
	return rec, outcome
}

// CancelAll drops every record, in flight or pending, without completing
// them. Retire hooks do not run.
func (q *CommandQueue) CancelAll() {
	q.tracker.CancelPending()
	if n := len(q.records); n > 0 {
		logger.Debug(q.opts.Prefix, "🗑️  cancelled %d queued command(s)", n)
		q.record(journal.KindCancel, RequestRecord{}, fmt.Sprintf("%d command(s)", n))
	}
	q.records = nil
	q.inFlight = false
}

// Close cancels everything and refuses further commands.
func (q *CommandQueue) Close() {
	q.CancelAll()
	q.closed = true
}

// Len returns the number of records, including the one in flight.
func (q *CommandQueue) Len() int {
	return len(q.records)
}

// InFlight returns the record awaiting completion, if any.
func (q *CommandQueue) InFlight() (RequestRecord, bool) {
	if !q.inFlight {
		return RequestRecord{}, false
	}
	return q.records[0], true
}

// Pending returns a copy of every record, head first.
func (q *CommandQueue) Pending() []RequestRecord {
	return append([]RequestRecord(nil), q.records...)
}

// advance issues the head until something is in flight or the queue is empty.
func (q *CommandQueue) advance() {
	if q.advancing {
		return
	}
	q.advancing = true
	defer func() { q.advancing = false }()

	for !q.inFlight && !q.closed && len(q.records) > 0 {
		head := &q.records[0]
		err := q.issue(head.Command)
		if err == nil {
			head.Attempts++
			ticket, terr := q.tracker.Start(head.Command.String())
			if terr != nil {
				// The queue's own flag is authoritative
				logger.Warn(q.opts.Prefix, "tracker out of sync: %v", terr)
				q.tracker.CancelPending()
				ticket, _ = q.tracker.Start(head.Command.String())
			}
			head.ticket = ticket
			q.inFlight = true
			logger.Trace(q.opts.Prefix, "issued %s (attempt %d)", head.Command, head.Attempts)
			q.record(journal.KindIssue, *head, "")
			return
		}

		switch {
		case errors.Is(err, att.ErrAttributeNotFound):
			logger.Warn(q.opts.Prefix, "⚠️  dropping %s: %v", head.Command, err)
			q.retire(journal.KindDrop, false, err.Error())
		case errors.Is(err, att.ErrPermissionDenied):
			logger.Error(q.opts.Prefix, "❌ dropping %s: %v", head.Command, err)
			q.retire(journal.KindDrop, false, err.Error())
		default:
			head.Attempts++
			if decide(*head, false, q.opts.MaxRetryCount) == OutcomeAbandoned {
				logger.Warn(q.opts.Prefix, "⚠️  %s rejected %d times (%v), giving up", head.Command, head.Attempts, err)
				q.retire(journal.KindDrop, false, err.Error())
			} else {
				logger.Debug(q.opts.Prefix, "🔁 %s rejected at issue (%v), attempt %d", head.Command, err, head.Attempts)
				q.record(journal.KindRetry, *head, err.Error())
			}
		}
	}
}

// retire pops the head and runs its hook.
func (q *CommandQueue) retire(kind journal.Kind, success bool, detail string) {
	rec := q.records[0]
	q.records = q.records[1:]
	q.record(kind, rec, detail)
	if rec.Command.onRetire != nil {
		rec.Command.onRetire(success)
	}
}

func (q *CommandQueue) record(kind journal.Kind, rec RequestRecord, detail string) {
	var d string
	if kind != journal.KindCancel {
		d = rec.Command.String()
	}
	if detail != "" {
		if d != "" {
			d += ": "
		}
		d += detail
	}
	q.journal.Record(journal.Entry{
		Time:    time.Now(),
		Source:  journal.SourceCentral,
		Peer:    q.opts.Peer,
		Kind:    kind,
		Detail:  d,
		Attempt: rec.Attempts,
	})
}
