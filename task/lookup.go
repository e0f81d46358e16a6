package task

import (
	"net"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/logger"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/metrics"
	"github.com/elastos-carrier/carrier-go/rpc"
	"github.com/elastos-carrier/carrier-go/types"
)

var log = logger.NewLogger("task")

// Mode selects how aggressively a lookup pursues stability before
// returning, per spec.md §4.3.
type Mode int

const (
	Arbitrary Mode = iota
	Optimistic
	Conservative
)

func (m Mode) String() string {
	switch m {
	case Arbitrary:
		return "ARBITRARY"
	case Optimistic:
		return "OPTIMISTIC"
	case Conservative:
		return "CONSERVATIVE"
	default:
		return "UNKNOWN"
	}
}

// Sender is the subset of *rpc.Transport a lookup needs: send a call and
// estimate its timeout. Tests can substitute a fake.
type Sender interface {
	Send(call *rpc.Call) error
	EstimateTimeout(addr *net.UDPAddr) time.Duration
}

// ResponseHandler processes a successful reply from a candidate,
// merging its contacts/value/peers into the lookup and reporting
// whether an ARBITRARY-mode lookup should stop immediately (e.g. a
// validating value or peer list was found).
type ResponseHandler func(l *Lookup, candidate *Candidate, resp *messages.Message) (arbitraryDone bool)

// QueryBuilder produces the request envelope to send a candidate, given
// a fresh transaction ID.
type QueryBuilder func(target id.ID, txID uint32) *messages.Message

// Lookup drives the closest-candidates / closest-set convergence shared
// by node, value and peer lookups.
type Lookup struct {
	Target     id.ID
	Mode       Mode
	K          int
	Candidates *ClosestCandidates
	ClosestSet *ClosestSet

	sender    Sender
	build     QueryBuilder
	handle    ResponseHandler
	txIDSeq   uint32
	arbitraryDone bool
	finished  bool
	onDone    func(*Lookup)
}

// NewLookup seeds a lookup from local routing-table entries and
// bootstrap fallbacks, per spec.md §4.3's seeding rule (2K closest local
// entries, topped up with bootstrap nodes if short).
func NewLookup(target id.ID, mode Mode, k int, seeds []types.NodeInfo, bootstrap []types.NodeInfo, sender Sender, build QueryBuilder, handle ResponseHandler, onDone func(*Lookup)) *Lookup {
	l := &Lookup{
		Target:     target,
		Mode:       mode,
		K:          k,
		Candidates: NewClosestCandidates(target, k),
		ClosestSet: NewClosestSet(target, k),
		sender:     sender,
		build:      build,
		handle:     handle,
		onDone:     onDone,
	}
	for _, s := range seeds {
		l.Candidates.Add(s)
	}
	if l.Candidates.Len() < 2*k {
		for _, b := range bootstrap {
			l.Candidates.Add(b)
		}
	}
	metrics.TaskLookupsStarted.Mark(1)
	return l
}

// Start issues the first batch of queries.
func (l *Lookup) Start() { l.pump() }

// pump sends queries to fill the concurrency window, then checks for
// termination if nothing was sent and nothing is in flight.
func (l *Lookup) pump() {
	if l.finished {
		return
	}
	slots := MaxConcurrentTaskRequests - l.inFlightCount()
	for _, c := range l.Candidates.Next(slots) {
		l.query(c)
	}
	l.maybeFinish()
}

func (l *Lookup) inFlightCount() int {
	n := 0
	for _, c := range l.Candidates.All() {
		if c.InFlight {
			n++
		}
	}
	return n
}

func (l *Lookup) query(c *Candidate) {
	l.txIDSeq++
	req := l.build(l.Target, l.txIDSeq)
	c.MarkSent()
	call := rpc.NewCall(c.Node, req, l.sender.EstimateTimeout(c.Node.Addr), func(call *rpc.Call, from, to rpc.State) {
		if !to.Terminal() {
			return
		}
		l.onCallDone(c, call)
	})
	if err := l.sender.Send(call); err != nil {
		c.MarkDone(true)
		l.maybeFinish()
	}
}

func (l *Lookup) onCallDone(c *Candidate, call *rpc.Call) {
	switch call.State {
	case rpc.Responded:
		c.MarkDone(false)
		c.Node.Version = int32(call.Response.Version)
		if l.handle(l, c, call.Response) {
			l.arbitraryDone = true
		}
	default:
		c.MarkDone(true)
	}
	l.pump()
}

func (l *Lookup) maybeFinish() {
	if l.finished {
		return
	}
	if !l.isTerminated() {
		return
	}
	l.finished = true
	metrics.TaskLookupsCompleted.Mark(1)
	if l.onDone != nil {
		l.onDone(l)
	}
}

func (l *Lookup) isTerminated() bool {
	if l.inFlightCount() > 0 {
		return false
	}
	if l.Candidates.Exhausted() {
		return true
	}
	if l.Mode == Arbitrary {
		return l.arbitraryDone
	}
	stable := false
	switch l.Mode {
	case Optimistic:
		stable = l.ClosestSet.StableHead()
	case Conservative:
		stable = l.ClosestSet.StableTail()
	}
	if !stable {
		return false
	}
	tail, ok := l.ClosestSet.Tail()
	if !ok {
		return true
	}
	head := l.Candidates.Head()
	if head == nil {
		return true
	}
	return !id.CloserThan(l.Target, head.Node.ID, tail.ID)
}

// AddContacts merges discovered contacts into the candidate pool, the
// common step every lookup response handler performs.
func (l *Lookup) AddContacts(contacts []messages.Contact) {
	for _, c := range contacts {
		l.Candidates.Add(types.NodeInfo{ID: c.ID, Addr: c.ToUDPAddr()})
	}
}

// TokenFor returns the write token issued by nodeID during this lookup,
// if one was collected, for use by a follow-up store/announce task.
func (l *Lookup) TokenFor(nodeID id.ID) ([]byte, bool) {
	for _, c := range l.Candidates.All() {
		if c.Node.ID.Equal(nodeID) && len(c.Token) > 0 {
			return c.Token, true
		}
	}
	return nil, false
}
