package ml

import (
	"math"
	"math/rand/v2"
	"sort"
)

// DefaultSeed keeps splits reproducible between runs over the same data.
const DefaultSeed = 42

// StratifiedSplit partitions sample indices into train and test sets so that
// every label keeps roughly the same share in both. Labels with a single
// sample stay in the training set.
func StratifiedSplit(labels []string, testSize float64, seed uint64) (train, test []int) {
	byLabel := make(map[string][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	keys := make([]string, 0, len(byLabel))
	for k := range byLabel {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, k := range keys {
		idx := byLabel[k]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(float64(len(idx)) * testSize))
		if nTest == 0 && len(idx) > 1 && testSize > 0 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Select picks values at the given indices.
func Select(values []string, indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}
