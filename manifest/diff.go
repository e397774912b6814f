package manifest

import "sort"

// Diff partitions the PURL keys of old and next into those added, removed,
// and modified. Modification is detected by UUID inequality, not by deep
// file comparison — a record republished under the same
// UUID but with an edited description is not "modified" here.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// DiffManifests computes the Diff between old and next, exposed as a
// first-class operation so callers (notably the download path, deciding
// whether a GC run is warranted) don't need to reimplement the
// partitioning themselves.
func DiffManifests(old, next *Manifest) Diff {
	var d Diff

	for key, newRec := range next.Patches {
		oldRec, existed := old.Patches[key]
		switch {
		case !existed:
			d.Added = append(d.Added, key)
		case oldRec.UUID != newRec.UUID:
			d.Modified = append(d.Modified, key)
		}
	}
	for key := range old.Patches {
		if _, stillPresent := next.Patches[key]; !stillPresent {
			d.Removed = append(d.Removed, key)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}
