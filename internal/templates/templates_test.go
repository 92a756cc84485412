package templates_test

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipline/internal/domain"
	"shipline/internal/store"
	"shipline/internal/templates"
)

var shipDate = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func TestBuiltinSizes(t *testing.T) {
	assert.Len(t, templates.Builtin(domain.TypeImport), 9)
	assert.Len(t, templates.Builtin(domain.TypeExport), 10)
	assert.Len(t, templates.Builtin(domain.TypeInTransit), 7)
	assert.Len(t, templates.Builtin("transit"), 7)
	for _, typ := range []string{"import", "export", "in-transit"} {
		require.NoError(t, templates.Check(templates.Builtin(typ)), typ)
	}
}

func TestTasksForDueDatesPrecedeShipmentDate(t *testing.T) {
	e := templates.New(store.NewMemory())
	for _, typ := range []string{domain.TypeImport, domain.TypeExport, domain.TypeInTransit} {
		tasks, err := e.TasksFor(context.Background(), typ, shipDate)
		require.NoError(t, err)
		require.NotEmpty(t, tasks)
		prev := time.Time{}
		for i, task := range tasks {
			due, err := time.Parse(domain.DateLayout, task.DueDate)
			require.NoError(t, err)
			assert.True(t, due.Before(shipDate), "%s %s", typ, task.Title)
			assert.True(t, due.After(prev), "due dates follow list order")
			assert.Equal(t, "task-"+strconv.Itoa(i+1), task.ID)
			assert.False(t, task.Completed)
			assert.False(t, task.Overdue)
			prev = due
		}
	}
}

func TestTasksForIsDeterministic(t *testing.T) {
	e := templates.New(store.NewMemory())
	a, err := e.TasksFor(context.Background(), "import", shipDate)
	require.NoError(t, err)
	b, err := e.TasksFor(context.Background(), "Import", shipDate.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "2024-05-16", a[0].DueDate)
}

func TestUnknownTypeFallsBackToDefaultPair(t *testing.T) {
	e := templates.New(store.NewMemory())
	tasks, err := e.TasksFor(context.Background(), "Livestock", shipDate)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Review shipment details", tasks[0].Title)
	assert.Equal(t, "Confirm travel documents", tasks[1].Title)
	assert.False(t, templates.Known("Livestock"))
}

func TestOverrideAndReset(t *testing.T) {
	ctx := context.Background()
	e := templates.New(store.NewMemory())
	custom := []templates.Template{
		{Title: "Book vet", Category: templates.CategoryHealth, Required: true, DaysBefore: 5},
		{Title: "Pack tack", Category: templates.CategoryLogistics, DaysBefore: 2},
	}
	require.NoError(t, e.SetOverride(ctx, "IMPORT", custom))

	tasks, err := e.TasksFor(ctx, domain.TypeImport, shipDate)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Book vet", tasks[0].Title)
	assert.Equal(t, "2024-06-10", tasks[0].DueDate)

	exportTasks, err := e.TasksFor(ctx, domain.TypeExport, shipDate)
	require.NoError(t, err)
	assert.Len(t, exportTasks, 10)

	keys, err := e.Overrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"import"}, keys)

	require.NoError(t, e.Reset(ctx, "import"))
	require.NoError(t, e.Reset(ctx, "import"))
	tasks, err = e.TasksFor(ctx, domain.TypeImport, shipDate)
	require.NoError(t, err)
	assert.Len(t, tasks, 9)
	_, ok, err := e.Override(ctx, "import")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentSetOverrideKeepsEveryType(t *testing.T) {
	ctx := context.Background()
	e := templates.New(store.NewMemory())
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			list := []templates.Template{{Title: "Check " + strconv.Itoa(i), Category: templates.CategoryHealth, DaysBefore: 3}}
			assert.NoError(t, e.SetOverride(ctx, "type "+strconv.Itoa(i), list))
		}(i)
	}
	wg.Wait()

	keys, err := e.Overrides(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, n)

	for i := 0; i < n; i += 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, e.Reset(ctx, "type "+strconv.Itoa(i)))
		}(i)
	}
	wg.Wait()
	keys, err = e.Overrides(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, n/2)
}

func TestSetOverrideRejectsBadLists(t *testing.T) {
	e := templates.New(store.NewMemory())
	ctx := context.Background()
	require.ErrorIs(t, e.SetOverride(ctx, "import", nil), domain.ErrInvalid)
	require.ErrorIs(t, e.SetOverride(ctx, "import", []templates.Template{
		{Title: "A", Category: "X", DaysBefore: 3},
		{Title: "B", Category: "X", DaysBefore: 3},
	}), domain.ErrInvalid)
	require.ErrorIs(t, e.SetOverride(ctx, "import", []templates.Template{{Category: "X", DaysBefore: 3}}), domain.ErrInvalid)
	require.ErrorIs(t, e.SetOverride(ctx, " ", []templates.Template{{Title: "A", Category: "X", DaysBefore: 3}}), domain.ErrInvalid)
}

func TestParseOverrides(t *testing.T) {
	doc := []byte(`
Import:
  - title: Import permit
    category: Documentation
    required: true
    days_before: 20
  - title: Vet check
    category: Health
    days_before: 4
in transit:
  - title: Transit permit
    category: Documentation
    days_before: 9
`)
	m, err := templates.ParseOverrides(doc)
	require.NoError(t, err)
	require.Len(t, m["import"], 2)
	assert.Equal(t, 20, m["import"][0].DaysBefore)
	assert.True(t, m["import"][0].Required)
	require.Len(t, m["in-transit"], 1)

	_, err = templates.ParseOverrides([]byte("import:\n  - title: x\n    category: y\n    days_before: 0\n"))
	require.ErrorIs(t, err, domain.ErrInvalid)
	_, err = templates.ParseOverrides([]byte("- not a map"))
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestSeedDemoIsReproducibleAndLeavesInputAlone(t *testing.T) {
	tasks := templates.Build(templates.Builtin("export"), shipDate)
	a := templates.SeedDemo(tasks, rand.New(rand.NewPCG(7, 7)))
	b := templates.SeedDemo(tasks, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, a, b)
	for i := range tasks {
		assert.False(t, tasks[i].Completed)
		if a[i].Completed {
			assert.False(t, a[i].Overdue)
		}
	}
}
