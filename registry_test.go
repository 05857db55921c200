package metricproxy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDedup(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Counter("requests", "first doc")
	require.NoError(t, err)
	second, err := reg.Counter("requests", "second doc")
	require.NoError(t, err)

	// Same name, same kind: the very same metric comes back.
	assert.Same(t, first, second)
	assert.Equal(t, "first doc", second.Doc())
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, first.Inc(2))
	require.NoError(t, second.Inc(3))
	assert.Equal(t, 5.0, first.Value())
}

func TestRegistryKindConflict(t *testing.T) {
	reg := NewRegistry()

	c, err := reg.Counter("mixed", "")
	require.NoError(t, err)
	require.NoError(t, c.Inc(3))

	_, err = reg.Gauge("mixed", "")
	assert.ErrorIs(t, err, ErrKindConflict)

	g, err := reg.Gauge("other", "")
	require.NoError(t, err)
	require.NoError(t, g.Set(2.5))

	_, err = reg.Counter("other", "")
	assert.ErrorIs(t, err, ErrKindConflict)

	// The failed registrations must not have clobbered anything: the
	// existing metrics keep their kind and their value.
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 3.0, c.Value())
	assert.Equal(t, 2.5, g.Value())
}

func TestRegistryNameValidation(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"requests_total", true},
		{"Requests", true},
		{"_hidden", true},
		{"ns:sub:metric", true},
		{":lead", true},
		{"", false},
		{"1st", false},
		{"has space", false},
		{"has-dash", false},
		{"tab\tchar", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.name), func(t *testing.T) {
			reg := NewRegistry()
			_, err := reg.Counter(tt.name, "")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}

func TestRegistryOrderStable(t *testing.T) {
	reg := NewRegistry()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		_, err := reg.Counter(name, "")
		require.NoError(t, err)
	}

	// Registration order, not lexical order.
	names := snapshotNames(reg.Snapshots())
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, names)

	// Re-registering must not move anything, appending goes to the end.
	_, err := reg.Counter("alpha", "")
	require.NoError(t, err)
	_, err = reg.Gauge("delta", "")
	require.NoError(t, err)

	names = snapshotNames(reg.Snapshots())
	assert.Equal(t, []string{"charlie", "alpha", "bravo", "delta"}, names)

	for i, snap := range reg.Snapshots() {
		assert.Equal(t, i, snap.Index)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	c, err := reg.Counter("present", "")
	require.NoError(t, err)

	got, ok := reg.Lookup("present")
	assert.True(t, ok)
	assert.Same(t, c, got)

	_, ok = reg.Lookup("absent")
	assert.False(t, ok)
}

func TestRegistryConcurrentCreate(t *testing.T) {
	reg := NewRegistry()

	const goroutines = 16
	values := make([]*Value, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := reg.Counter("shared", "")
			if err != nil {
				t.Error(err)
				return
			}
			values[i] = v
			_ = v.Inc(1)
		}(i)
	}
	wg.Wait()

	// Every racer got the same instance and no increment was lost.
	require.Equal(t, 1, reg.Len())
	for i := 1; i < goroutines; i++ {
		assert.Same(t, values[0], values[i])
	}
	assert.Equal(t, float64(goroutines), values[0].Value())
}

func TestRegistryClosed(t *testing.T) {
	reg := NewRegistry()
	c, err := reg.Counter("before", "")
	require.NoError(t, err)
	g, err := reg.Gauge("gauge_before", "")
	require.NoError(t, err)

	reg.close()

	_, err = reg.Counter("after", "")
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Inc(1), ErrClientClosed)
	assert.ErrorIs(t, g.Set(1), ErrClientClosed)
	assert.Nil(t, reg.Snapshots())
}

func snapshotNames(snaps []Snapshot) []string {
	names := make([]string, 0, len(snaps))
	for _, s := range snaps {
		names = append(names, s.Name)
	}
	return names
}
