package rdl

import "testing"

// TestPlanChunksPublishedShape exercises the published plan-shape scenario:
// size=100000, chunkSize=30000, with a connection count (3) that does not
// trigger the shrink-to-match-connections branch, so the resulting ranges
// are pinned entirely by the tail-rebalance step.
func TestPlanChunksPublishedShape(t *testing.T) {
	plan := planChunks(100_000, 3, ChunkSizePolicy{Fixed: 30_000})

	want := Plan{
		{ID: 0, Lo: 0, Hi: 29_999},
		{ID: 1, Lo: 30_000, Hi: 59_999},
		{ID: 2, Lo: 60_000, Hi: 84_999},
		{ID: 3, Lo: 85_000, Hi: 99_999},
	}
	assertPlanEqual(t, plan, want)
}

// TestPlanChunksShrinksWhenStarved covers the other branch of step 2: a
// chunk size that would leave fewer ranges than connections requested
// forces cs down to size/connections, producing equal-sized chunks.
func TestPlanChunksShrinksWhenStarved(t *testing.T) {
	plan := planChunks(1000, 10, ChunkSizePolicy{Fixed: 300})

	if len(plan) != 10 {
		t.Fatalf("len(plan) = %d, want 10", len(plan))
	}
	for _, c := range plan {
		if c.Len() != 100 {
			t.Errorf("chunk #%d length = %d, want 100", c.ID, c.Len())
		}
	}
	assertCoverage(t, plan, 1000)
}

// TestPlanChunksDistributesRemainder covers step 4's remainder spread: when
// the shrink branch leaves a non-zero extra, the first `extra` chunks each
// gain one byte over the others.
func TestPlanChunksDistributesRemainder(t *testing.T) {
	plan := planChunks(23, 5, ChunkSizePolicy{Fixed: 10})

	want := Plan{
		{ID: 0, Lo: 0, Hi: 4},
		{ID: 1, Lo: 5, Hi: 9},
		{ID: 2, Lo: 10, Hi: 14},
		{ID: 3, Lo: 15, Hi: 18},
		{ID: 4, Lo: 19, Hi: 22},
	}
	assertPlanEqual(t, plan, want)
}

func TestPlanChunksZeroSize(t *testing.T) {
	plan := planChunks(0, 5, DefaultChunkSizePolicy)
	if len(plan) != 0 {
		t.Errorf("len(plan) = %d, want 0", len(plan))
	}
}

func TestPlanChunksSingleConnection(t *testing.T) {
	plan := planChunks(500, 1, ChunkSizePolicy{Fixed: 1000})
	if len(plan) != 1 {
		t.Fatalf("len(plan) = %d, want 1", len(plan))
	}
	assertCoverage(t, plan, 500)
}

// TestPlanChunksCoverageProperty checks spec.md §8's coverage and ordering
// invariants hold across a handful of size/connections/chunkSize combos.
func TestPlanChunksCoverageProperty(t *testing.T) {
	cases := []struct {
		size        int64
		connections int
		chunkSize   int64
	}{
		{100_000, 5, 30_000},
		{1_000, 4, 250},
		{7, 3, 2},
		{1_048_576, 8, 131_072},
		{99, 10, 1},
	}
	for _, c := range cases {
		plan := planChunks(c.size, c.connections, ChunkSizePolicy{Fixed: c.chunkSize})
		assertCoverage(t, plan, c.size)
	}
}

func assertCoverage(t *testing.T, plan Plan, size int64) {
	t.Helper()
	if plan.TotalSize() != size {
		t.Errorf("TotalSize() = %d, want %d", plan.TotalSize(), size)
	}
	var offset int64
	for i, c := range plan {
		if c.ID != i {
			t.Errorf("chunk %d has ID %d", i, c.ID)
		}
		if c.Lo != offset {
			t.Errorf("chunk %d.Lo = %d, want %d", i, c.Lo, offset)
		}
		if c.Hi < c.Lo {
			t.Errorf("chunk %d has Hi %d < Lo %d", i, c.Hi, c.Lo)
		}
		offset = c.Hi + 1
	}
	if offset != size {
		t.Errorf("ranges cover up to %d, want %d", offset, size)
	}
}

func assertPlanEqual(t *testing.T, got, want Plan) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len(plan) = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
