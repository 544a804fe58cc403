package experience

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		kind string
		want any
	}{
		{"memory", &MemoryStore{}},
		{"sqlite", &SQLiteStore{}},
		{"csv", &CSVStore{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()

			s, err := Open(tt.kind, filepath.Join(dir, "x.sqlite"), filepath.Join(dir, "x.csv"))
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)

			added, err := s.Append(context.Background(), sampleRecord("01J"))
			require.NoError(t, err)
			assert.True(t, added)
		})
	}

	_, err := Open("redis", "", "")
	assert.Error(t, err)
}
