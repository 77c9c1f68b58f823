package content

import "sort"

// FitDocuments returns the size of the largest prefix of docs whose combined
// token estimate fits contextWindow minus baseTokens. Ordering is
// caller-controlled (reranker output first); the function is pure.
//
// Binary search over the prefix length keeps this cheap for large candidate
// sets: token sums over prefixes are monotonic.
func FitDocuments(contextWindow, baseTokens int, docs []string) int {
	budget := contextWindow - baseTokens
	if budget < 0 || len(docs) == 0 {
		return 0
	}

	// Prefix token sums. prefix[i] = tokens of docs[0..i-1].
	prefix := make([]int, len(docs)+1)
	for i, doc := range docs {
		prefix[i+1] = prefix[i] + EstimateTokens(doc)
	}

	// Largest n with prefix[n] <= budget.
	n := sort.Search(len(docs)+1, func(n int) bool {
		return prefix[n] > budget
	}) - 1
	if n < 0 {
		return 0
	}
	return n
}
