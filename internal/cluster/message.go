// Package cluster carries coordinator/worker messages between the
// participants of a distributed run.
package cluster

import (
	"context"
	"strconv"

	"github.com/SystemsGenetics/ACE-sub002/pkg/hostinfo"
)

// Kind identifies a message.
type Kind uint8

const (
	// Assign carries the analytic and its canonical arguments to a worker.
	Assign Kind = iota + 1
	// Ready reports that a worker bound its inputs.
	Ready
	// Work is one block to execute.
	Work
	// Result is an executed block.
	Result
	// Failure reports a worker error, for a block or for the whole run.
	Failure
	// Terminate tells a worker no more work follows.
	Terminate
	// Done acknowledges Terminate.
	Done
)

var kindNames = map[Kind]string{
	Assign: "assign", Ready: "ready", Work: "work", Result: "result",
	Failure: "failure", Terminate: "terminate", Done: "done",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Message is the envelope exchanged between participants.
type Message struct {
	Kind        Kind               `cbor:"1,keyasint"`
	Rank        int                `cbor:"2,keyasint,omitempty"`
	Analytic    string             `cbor:"3,keyasint,omitempty"`
	Args        []byte             `cbor:"4,keyasint,omitempty"`
	Fingerprint []byte             `cbor:"5,keyasint,omitempty"`
	Compression string             `cbor:"6,keyasint,omitempty"`
	Index       int                `cbor:"7,keyasint,omitempty"`
	Data        []byte             `cbor:"8,keyasint,omitempty"`
	ErrorType   string             `cbor:"9,keyasint,omitempty"`
	Error       string             `cbor:"10,keyasint,omitempty"`
	Host        *hostinfo.Snapshot `cbor:"11,keyasint,omitempty"`
}

// Conn is one side of a coordinator/worker link. Send may be called from
// several goroutines; Recv from one.
type Conn interface {
	Send(ctx context.Context, m *Message) error
	Recv(ctx context.Context) (*Message, error)
	Close() error
}
