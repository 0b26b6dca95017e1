package dataset

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShuffleIsPermutation(t *testing.T) {
	items := make([]Item, 100)
	for i := range items {
		items[i] = Item{Label: fmt.Sprint(i % 10), Path: fmt.Sprintf("%d.png", i)}
	}
	before := append([]Item(nil), items...)

	Shuffle(items, NewRand(3))

	require.ElementsMatch(t, before, items)
	require.NotEqual(t, before, items)
}

func TestShuffleSeeded(t *testing.T) {
	a := []Item{{Path: "a"}, {Path: "b"}, {Path: "c"}, {Path: "d"}, {Path: "e"}}
	b := append([]Item(nil), a...)

	Shuffle(a, NewRand(42))
	Shuffle(b, NewRand(42))

	require.Equal(t, a, b)
}

func TestShuffleDistribution(t *testing.T) {
	const runs = 6000
	counts := map[string]int{}
	rng := NewRand(11)
	for i := 0; i < runs; i++ {
		items := []Item{{Path: "a"}, {Path: "b"}, {Path: "c"}}
		Shuffle(items, rng)
		var key strings.Builder
		for _, it := range items {
			key.WriteString(it.Path)
		}
		counts[key.String()]++
	}

	require.Len(t, counts, 6)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// expected 1000 per ordering, stddev about 29
		require.InDelta(t, runs/6, counts[k], 200, "ordering %s", k)
	}
}

func TestPrefix(t *testing.T) {
	items := []Item{{Path: "a"}, {Path: "b"}, {Path: "c"}}
	require.Len(t, Prefix(items, 2), 2)
	require.Len(t, Prefix(items, 2000), 3)
	require.Empty(t, Prefix(nil, 2000))
	require.Empty(t, Prefix(items, -1))
}
