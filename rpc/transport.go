package rpc

import (
	"net"
	"sync"
	"time"

	"github.com/elastos-carrier/carrier-go/logger"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/metrics"
)

var log = logger.NewLogger("rpc")

// Bounds and budgets from spec.md §4.1.
const (
	CallTimeoutBaselineMin       = 100 * time.Millisecond
	CallTimeoutMax               = 10 * time.Second
	MaxActiveCalls               = 256
	ServerReachabilityTimeout    = 60 * time.Second
	rttSmoothing                 = 0.2 // EMA weight given to each new sample
)

// RequestHandler processes an inbound request envelope and returns the
// reply to send back (a response or error envelope), or nil to send
// nothing.
type RequestHandler func(from *net.UDPAddr, req *messages.Message) *messages.Message

// Transport owns one UDP socket: transaction ID allocation, the table of
// in-flight calls, RTT-adaptive timeout estimation, and the receive-path
// dispatch described in spec.md §4.1.
type Transport struct {
	conn    *net.UDPConn
	handler RequestHandler

	mu         sync.Mutex
	nextTxID   uint32
	inFlight   map[uint32]*Call
	rtt        map[string]time.Duration
	lastRecvAt time.Time

	closeOnce sync.Once
	closed    chan struct{}

	extLock sync.Locker
}

// NewTransport wraps conn, dispatching inbound requests to handler.
func NewTransport(conn *net.UDPConn, handler RequestHandler) *Transport {
	return &Transport{
		conn:     conn,
		handler:  handler,
		inFlight: make(map[uint32]*Call),
		rtt:      make(map[string]time.Duration),
		closed:   make(chan struct{}),
	}
}

// SetDispatchLock arms l to be held for the duration of every inbound
// datagram's processing (ServeLoop) and every CheckTimeouts pass, so a
// caller coordinating a single cooperative scheduler per DHT instance
// (spec.md §5) can serialize call state-change callbacks against its own
// maintenance loop without either side needing to know about the other's
// goroutine.
func (t *Transport) SetDispatchLock(l sync.Locker) { t.extLock = l }

// allocTxID returns a transaction ID not currently in flight, wrapping
// modulo 2^32.
func (t *Transport) allocTxID() uint32 {
	for {
		t.nextTxID++
		if _, busy := t.inFlight[t.nextTxID]; !busy {
			return t.nextTxID
		}
	}
}

// EstimateTimeout returns the adaptive timeout for addr: three times the
// smoothed observed RTT, clamped to [CallTimeoutBaselineMin, CallTimeoutMax], or
// CallTimeoutMax for an address with no history.
func (t *Transport) EstimateTimeout(addr *net.UDPAddr) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	rtt, ok := t.rtt[addr.String()]
	if !ok {
		return CallTimeoutMax
	}
	budget := rtt * 3
	if budget < CallTimeoutBaselineMin {
		return CallTimeoutBaselineMin
	}
	if budget > CallTimeoutMax {
		return CallTimeoutMax
	}
	return budget
}

func (t *Transport) recordRTT(addr *net.UDPAddr, sample time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := addr.String()
	if prev, ok := t.rtt[key]; ok {
		t.rtt[key] = time.Duration(float64(prev)*(1-rttSmoothing) + float64(sample)*rttSmoothing)
	} else {
		t.rtt[key] = sample
	}
}

// Send assigns a transaction ID to call's request, serializes and writes
// it, and registers the call as in-flight. A write failure moves the
// call directly to ERROR per the send-path rule.
func (t *Transport) Send(call *Call) error {
	t.mu.Lock()
	if len(t.inFlight) >= MaxActiveCalls {
		t.mu.Unlock()
		call.MarkError(errBackpressure)
		return errBackpressure
	}
	call.TxID = t.allocTxID()
	call.Request.TxID = call.TxID
	t.inFlight[call.TxID] = call
	t.mu.Unlock()

	b, err := messages.Encode(call.Request)
	if err != nil {
		t.releaseCall(call.TxID)
		call.MarkError(err)
		return err
	}
	if _, err := t.conn.WriteToUDP(b, call.Target.Addr); err != nil {
		t.releaseCall(call.TxID)
		call.MarkError(err)
		metrics.RPCCallsError.Mark(1)
		return err
	}
	call.MarkSent()
	metrics.RPCCallsSent.Mark(1)
	metrics.RPCBytesOut.Mark(int64(len(b)))
	metrics.RPCCallsActive.Update(int64(t.activeCount()))
	return nil
}

func (t *Transport) activeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}

func (t *Transport) releaseCall(txID uint32) {
	t.mu.Lock()
	delete(t.inFlight, txID)
	t.mu.Unlock()
	metrics.RPCCallsActive.Update(int64(t.activeCount()))
}

// ServeLoop reads datagrams until Close is called, dispatching each to
// the receive path. It is meant to run on its own goroutine; the DHT's
// single-threaded scheduler only ever observes its effects through call
// state-change callbacks and the request handler.
func (t *Transport) ServeLoop() {
	buf := make([]byte, messages.MaxMessageSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				log.Warnf("rpc: read error: %v", err)
				continue
			}
		}
		metrics.RPCBytesIn.Mark(int64(n))
		t.handleDatagram(from, append([]byte(nil), buf[:n]...))
	}
}

func (t *Transport) handleDatagram(from *net.UDPAddr, b []byte) {
	if t.extLock != nil {
		t.extLock.Lock()
		defer t.extLock.Unlock()
	}
	msg, err := messages.Decode(b)
	if err != nil {
		log.Debugf("rpc: protocol error from %s: %v", from, err)
		return
	}

	switch msg.Kind {
	case messages.KindResponse, messages.KindError:
		t.dispatchReply(from, msg)
	case messages.KindRequest:
		if t.handler == nil {
			return
		}
		if reply := t.handler(from, msg); reply != nil {
			b, err := messages.Encode(reply)
			if err != nil {
				log.Errorf("rpc: encoding reply: %v", err)
				return
			}
			if _, err := t.conn.WriteToUDP(b, from); err != nil {
				log.Warnf("rpc: writing reply to %s: %v", from, err)
				return
			}
			metrics.RPCBytesOut.Mark(int64(len(b)))
		}
	}
}

func (t *Transport) dispatchReply(from *net.UDPAddr, msg *messages.Message) {
	t.mu.Lock()
	call, ok := t.inFlight[msg.TxID]
	if ok {
		delete(t.inFlight, msg.TxID)
	}
	t.mu.Unlock()
	if !ok {
		log.Debugf("rpc: unmatched transaction %d from %s, dropping", msg.TxID, from)
		return
	}
	metrics.RPCCallsActive.Update(int64(t.activeCount()))

	// spec.md §4.1 receive-path step 3: a reply must come from the
	// address the call was sent to. The wire carries no responder id to
	// check instead, so a source-address mismatch is the identity check
	// available; treating it as an Error (rather than silently dropping)
	// lets the call's existing state-change path penalize the routing
	// table exactly as a timeout would.
	if !addrEqual(from, call.Target.Addr) {
		log.Warnf("rpc: transaction %d replied from %s, expected %s, dropping", msg.TxID, from, call.Target.Addr)
		metrics.RPCCallsError.Mark(1)
		call.MarkError(errResponderMismatch)
		return
	}

	t.mu.Lock()
	t.lastRecvAt = time.Now()
	t.mu.Unlock()

	if msg.Kind == messages.KindError {
		call.MarkError(protocolError(msg.Error))
		metrics.RPCCallsError.Mark(1)
		return
	}
	t.recordRTT(from, time.Since(call.SentAt))
	call.MarkResponded(msg)
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// CheckTimeouts scans in-flight calls, moving expired SENT calls to
// STALLED and long-silent STALLED calls to TIMEOUT. The maintenance
// ticker invokes this on the scheduler thread; if a dispatch lock is
// armed via SetDispatchLock, the caller must hold it while calling this,
// the same discipline ServeLoop applies to inbound datagrams.
func (t *Transport) CheckTimeouts(now time.Time) {
	t.mu.Lock()
	expired := make([]*Call, 0)
	for txID, call := range t.inFlight {
		if call.State == Sent && call.Expired(now) {
			expired = append(expired, call)
			continue
		}
		if call.State == Stalled && now.Sub(call.SentAt) >= call.Timeout*2 {
			delete(t.inFlight, txID)
			expired = append(expired, call)
		}
	}
	t.mu.Unlock()

	for _, call := range expired {
		if call.State == Sent {
			call.MarkStalled()
		} else {
			call.MarkTimeout()
			metrics.RPCCallsTimeout.Mark(1)
		}
	}
	metrics.RPCCallsActive.Update(int64(t.activeCount()))
}

// Reachable reports whether a reply has been seen within
// ServerReachabilityTimeout.
func (t *Transport) Reachable(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRecvAt.IsZero() {
		return false
	}
	return now.Sub(t.lastRecvAt) < ServerReachabilityTimeout
}

// Close stops ServeLoop and releases the socket.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return t.conn.Close()
}
