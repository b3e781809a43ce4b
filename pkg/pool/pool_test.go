package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := New(func() *[]int { s := make([]int, 0, 4); return &s }, func(s *[]int) { *s = (*s)[:0] })

	s := p.Get()
	*s = append(*s, 1, 2, 3)
	p.Put(s)

	_, inUse, gets := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(1), gets)

	s = p.Get()
	assert.Empty(t, *s)
	p.Put(s)
}

func TestBuffers(t *testing.T) {
	b := GetBuffer()
	b.WriteString("block")
	out := Detach(b)
	PutBuffer(b)
	assert.Equal(t, []byte("block"), out)

	b = GetBuffer()
	assert.Zero(t, b.Len())
	PutBuffer(b)

	big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
	Buffers.Get()
	PutBuffer(big)
	_, inUse, _ := Buffers.Stats()
	assert.Equal(t, int64(0), inUse)
}
