package rdl

import "fmt"

// finalChunkPath returns the path of the completed chunk artifact,
// "<dest>.$$<id>" per spec.md §6's on-disk layout.
func finalChunkPath(dest string, id int) string {
	return fmt.Sprintf("%s.$$%d", dest, id)
}

// partChunkPath returns the path of the in-flight write target for a single
// attempt, "<dest>.$$<id>$PART".
func partChunkPath(dest string, id int) string {
	return fmt.Sprintf("%s.$$%d$PART", dest, id)
}
