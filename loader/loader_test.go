package loader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crytic/covrec/pathutil"
)

func TestLoadReturnsSameBytes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "target.bin")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0644))

	l := New()
	p := pathutil.MustNew(file)

	a, err := l.Load(p)
	require.NoError(t, err)
	b, err := l.Load(p)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	loads, hits := l.Stats()
	assert.Equal(t, 2, loads)
	assert.Equal(t, 1, hits)
}

func TestLoadMissingFileFails(t *testing.T) {
	l := New()
	p := pathutil.MustNew("/nonexistent/path/to/nothing")
	_, err := l.Load(p)
	assert.Error(t, err)
}

func TestLoadConcurrentSinglesRead(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "target.bin")
	require.NoError(t, os.WriteFile(file, []byte("concurrent"), 0644))

	l := New()
	p := pathutil.MustNew(file)

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			data, err := l.Load(p)
			require.NoError(t, err)
			results[idx] = data
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []byte("concurrent"), r)
	}
}
