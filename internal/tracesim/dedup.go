package tracesim

// SimHashClusterDistance is the Hamming-distance cutoff under which two
// traces' SimHash values are treated as the same cluster.
const SimHashClusterDistance = 8

// DedupTraces clusters raw crash-trace texts by fuzzy similarity and
// returns the number of distinct clusters: the "trace3" unique-bug tier,
// a supplement to the Evaluator's exact {ip, trace} dedup modes. Every
// trace is first compared by SimHash distance; when that does not match,
// TLSH distance is tried, which only succeeds for traces long enough for
// TLSH to hash.
func DedupTraces(traces []string) int {
	if len(traces) == 0 {
		return 0
	}

	hasher := NewSimHasher()
	analyzer := NewTLSHAnalyzer(nil)

	type cluster struct {
		hash SimHash
		rep  string
	}
	var clusters []cluster

	for _, t := range traces {
		h := hasher.Compute(t)
		matched := false
		for _, c := range clusters {
			if h.IsSimilar(c.hash, SimHashClusterDistance) {
				matched = true
				break
			}
			if result, err := analyzer.CompareContents([]byte(t), []byte(c.rep)); err == nil && result.IsSimilar {
				matched = true
				break
			}
		}
		if !matched {
			clusters = append(clusters, cluster{hash: h, rep: t})
		}
	}
	return len(clusters)
}
