package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
	assert.Len(t, prev, 26)
}

func TestNewAtEmbedsTime(t *testing.T) {
	at := time.Date(2026, 10, 15, 14, 30, 0, 123_000_000, time.UTC)
	s := NewAt(at)

	got, err := Time(s)
	require.NoError(t, err)
	assert.True(t, got.Equal(at), "got %s", got)

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
