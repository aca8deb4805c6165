package rdl

import "os"

// resumeResult is the per-chunk classification the resume scanner produces:
// Complete chunks are skipped over the network; Pending chunks are
// enqueued; an on-disk chunk larger than its range is fatal.
type resumeResult struct {
	pending  []int
	complete []int
	isResume bool
}

// scanForResume implements spec.md §4.5: for each planned chunk, stat the
// final artifact. Absent → pending. Present with matching size → complete.
// Present and oversize → fatal on-disk-inconsistency (the plan doesn't
// match what's on disk). Present and undersize → spec.md's chosen policy
// (§4.5 parenthetical / §9 Open Question a) is to distrust it: delete and
// re-request the full range, rather than attempt a tail-only fetch.
func scanForResume(dest string, plan Plan) (resumeResult, error) {
	var r resumeResult
	for _, c := range plan {
		path := finalChunkPath(dest, c.ID)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				r.pending = append(r.pending, c.ID)
				continue
			}
			return resumeResult{}, newChunkErr(KindFilesystem, c.ID, err)
		}

		switch {
		case info.Size() == c.Len():
			r.complete = append(r.complete, c.ID)
			r.isResume = true
		case info.Size() > c.Len():
			return resumeResult{}, newChunkErr(KindOnDiskInconsistency, c.ID, nil)
		default:
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return resumeResult{}, newChunkErr(KindFilesystem, c.ID, err)
			}
			r.pending = append(r.pending, c.ID)
		}
	}
	return r, nil
}
