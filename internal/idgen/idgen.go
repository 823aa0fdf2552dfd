// Package idgen issues identifiers for tickets, passengers, cancellations and payments.
//
// An identifier is a kind prefix, a fixed width base36 millisecond timestamp and a
// random base36 suffix. Identifiers of one kind sort by creation time and several
// service instances can issue them without coordinating.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindPNR            Kind = "pnr"
	KindPassenger      Kind = "passenger"
	KindCancellation   Kind = "cancellation"
	KindPayment        Kind = "payment"
	KindReconciliation Kind = "reconciliation"
)

var prefixes = map[Kind]string{
	KindPNR:            "PNR",
	KindPassenger:      "PSG",
	KindCancellation:   "CXL",
	KindPayment:        "PAY",
	KindReconciliation: "RCN",
}

const (
	timeWidth   = 9
	suffixWidth = 8
)

// 36^8
const suffixSpace = 2821109907456

// Generator is the interface the transaction managers depend on.
type Generator interface {
	Next(kind Kind) (string, error)
}

type TimeRandom struct {
	now    func() time.Time
	random io.Reader
}

func New() *TimeRandom {
	return &TimeRandom{now: time.Now, random: rand.Reader}
}

// NewWithSource is used by tests to pin the clock and the entropy source.
func NewWithSource(now func() time.Time, random io.Reader) *TimeRandom {
	return &TimeRandom{now: now, random: random}
}

func (g *TimeRandom) Next(kind Kind) (string, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return "", fmt.Errorf("unknown identifier kind %q", kind)
	}

	var buf [8]byte
	if _, err := io.ReadFull(g.random, buf[:]); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	suffix := binary.BigEndian.Uint64(buf[:]) % suffixSpace

	ms := g.now().UnixMilli()
	if ms < 0 {
		ms = 0
	}

	var b strings.Builder
	b.Grow(len(prefix) + timeWidth + suffixWidth)
	b.WriteString(prefix)
	b.WriteString(pad(strconv.FormatUint(uint64(ms), 36), timeWidth))
	b.WriteString(pad(strconv.FormatUint(suffix, 36), suffixWidth))
	return strings.ToUpper(b.String()), nil
}

// KindOf reports which kind an identifier was issued for.
func KindOf(id string) (Kind, bool) {
	for kind, prefix := range prefixes {
		if len(id) == len(prefix)+timeWidth+suffixWidth && strings.HasPrefix(id, prefix) {
			return kind, true
		}
	}
	return "", false
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}
