package session

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Ledger accumulates transport byte counters. Counters are atomics so
// any goroutine may tick them; the once-per-second log line is driven by
// the owning loop through maybeLog.
type Ledger struct {
	sent       atomic.Uint64
	received   atomic.Uint64
	windowSent atomic.Uint64
	windowRecv atomic.Uint64

	log     *zap.SugaredLogger
	lastLog time.Time
}

func newLedger(log *zap.SugaredLogger, now time.Time) *Ledger {
	return &Ledger{log: log, lastLog: now}
}

func (l *Ledger) addSent(n int) {
	l.sent.Add(uint64(n))
	l.windowSent.Add(uint64(n))
}

func (l *Ledger) addReceived(n int) {
	l.received.Add(uint64(n))
	l.windowRecv.Add(uint64(n))
}

// Totals reports bytes sent and received since the transport started.
func (l *Ledger) Totals() (sent, received uint64) {
	return l.sent.Load(), l.received.Load()
}

// maybeLog emits the bandwidth line once per second and resets the
// window counters.
func (l *Ledger) maybeLog(now time.Time) {
	if now.Sub(l.lastLog) < time.Second {
		return
	}
	l.lastLog = now
	sent := l.windowSent.Swap(0)
	recv := l.windowRecv.Swap(0)
	totalSent, totalRecv := l.Totals()
	l.log.Infow("bandwidth",
		"sent", humanize.Bytes(totalSent),
		"sentRate", humanize.Bytes(sent)+"/s",
		"recv", humanize.Bytes(totalRecv),
		"recvRate", humanize.Bytes(recv)+"/s",
	)
}
