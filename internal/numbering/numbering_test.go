package numbering_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipline/internal/domain"
	"shipline/internal/numbering"
	"shipline/internal/store"
)

func TestNextIsSequentialPerType(t *testing.T) {
	ctx := context.Background()
	g := numbering.New(store.NewMemory())
	for i := 1; i <= 12; i++ {
		n, err := g.Next(ctx, "import")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("IMPORT-%03d", i), n)
	}
	n, err := g.Next(ctx, domain.TypeExport)
	require.NoError(t, err)
	assert.Equal(t, "EXPORT-001", n)
	n, err = g.Next(ctx, domain.TypeInTransit)
	require.NoError(t, err)
	assert.Equal(t, "TRANSIT-001", n)
}

func TestUnknownTypeUsesUppercasedPrefix(t *testing.T) {
	ctx := context.Background()
	g := numbering.New(store.NewMemory())
	n, err := g.Next(ctx, "Livestock")
	require.NoError(t, err)
	assert.Equal(t, "LIVESTOCK-001", n)
	n, err = g.Next(ctx, "livestock ")
	require.NoError(t, err)
	assert.Equal(t, "LIVESTOCK-002", n)

	_, err = g.Next(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestCountersPersistAcrossGenerators(t *testing.T) {
	ctx := context.Background()
	slots := store.NewMemory()
	_, err := numbering.New(slots).Next(ctx, "export")
	require.NoError(t, err)

	g := numbering.New(slots)
	peek, err := g.Peek(ctx, "export")
	require.NoError(t, err)
	assert.Equal(t, "EXPORT-002", peek)
	peek, err = g.Peek(ctx, "export")
	require.NoError(t, err)
	assert.Equal(t, "EXPORT-002", peek)

	c, err := g.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, numbering.Counters{"import": 1, "export": 2, "in-transit": 1}, c)

	require.NoError(t, g.Reset(ctx))
	n, err := g.Next(ctx, "export")
	require.NoError(t, err)
	assert.Equal(t, "EXPORT-001", n)
}

func TestConcurrentNextNeverRepeats(t *testing.T) {
	ctx := context.Background()
	g := numbering.New(store.NewMemory())
	var wg sync.WaitGroup
	out := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.Next(ctx, "import")
			if err == nil {
				out <- n
			}
		}()
	}
	wg.Wait()
	close(out)
	seen := map[string]bool{}
	for n := range out {
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, 50)
}

func TestFormatWidensPastThreeDigits(t *testing.T) {
	assert.Equal(t, "IMPORT-1000", numbering.Format("import", 1000))
}
