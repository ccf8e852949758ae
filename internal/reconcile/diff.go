// Package reconcile brings a publication's association rows in line with a
// target state by writing only the difference.
package reconcile

// Diff returns the keys present in target but not in current (toAdd) and
// the keys present in current but not in target (toRemove). Duplicates in
// either input collapse to one. toAdd follows target order and toRemove
// follows current order.
func Diff[K comparable](current, target []K) (toAdd, toRemove []K) {
	have := setOf(current)
	want := setOf(target)

	for _, k := range unique(target) {
		if _, ok := have[k]; !ok {
			toAdd = append(toAdd, k)
		}
	}
	for _, k := range unique(current) {
		if _, ok := want[k]; !ok {
			toRemove = append(toRemove, k)
		}
	}
	return toAdd, toRemove
}

func setOf[K comparable](keys []K) map[K]struct{} {
	set := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func unique[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
