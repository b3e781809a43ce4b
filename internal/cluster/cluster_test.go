package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/hostinfo"
	"github.com/SystemsGenetics/ACE-sub002/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchange(t *testing.T, a, b Conn) {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	sent := &Message{Kind: Work, Index: 7, Data: []byte{1, 2, 3}}
	require.NoError(t, a.Send(ctx, sent))
	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	reply := &Message{Kind: Ready, Rank: 2, Host: &hostinfo.Snapshot{Hostname: "node-2", LogicalCores: 8}}
	require.NoError(t, b.Send(ctx, reply))
	got, err = a.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready, got.Kind)
	assert.Equal(t, 2, got.Rank)
	require.NotNil(t, got.Host)
	assert.Equal(t, "node-2", got.Host.Hostname)
	assert.Equal(t, 8, got.Host.LogicalCores)
}

func TestPipe(t *testing.T) {
	a, b := Pipe()
	exchange(t, a, b)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	require.NoError(t, a.Send(ctx, &Message{Kind: Done}))
	require.NoError(t, a.Close())

	// Queued messages survive the close.
	m, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Done, m.Kind)

	_, err = b.Recv(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	err = b.Send(ctx, &Message{Kind: Done})
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestPipeRecvCanceled(t *testing.T) {
	a, _ := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Recv(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.True(t, errors.IsRetryable(err))
}

func TestTCP(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", testutil.TestLogger(t))
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	exchange(t, server, client)
}

func TestTCPRecvCanceled(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	client, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
	defer stop()
	_, err = client.Recv(short)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestAcceptCanceled(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ln.Accept(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "assign", Assign.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
