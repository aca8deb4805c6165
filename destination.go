package rdl

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hydrz/rdl/utils"
)

// resolveDestination implements spec.md §4.3: if dest names a directory,
// derive a filename from sourceURL; if it names an existing file, apply
// existBehavior (new_file renames with a "(COPY)" suffix, ignore aborts
// silently, overwrite accepts as-is). Returns "" with no error when the
// policy is ignore and the file already exists.
func resolveDestination(dest, sourceURL string, behavior ExistBehavior) (string, error) {
	for {
		info, err := os.Stat(dest)
		if err != nil {
			if os.IsNotExist(err) {
				return dest, nil
			}
			return "", newErr(KindFilesystem, err)
		}

		if info.IsDir() {
			dest = filepath.Join(dest, filenameFromURL(sourceURL))
			continue
		}

		switch behavior {
		case ExistIgnore:
			return "", nil
		case ExistOverwrite:
			return dest, nil
		default: // ExistNewFile
			dest = nextCopyName(dest)
			continue
		}
	}
}

// validateParentDir ensures dest's parent directory exists and is a
// directory, per spec.md §4.3's post-resolution validation.
func validateParentDir(dest string) error {
	dir := filepath.Dir(dest)
	info, err := os.Stat(dir)
	if err != nil {
		return &Error{Kind: KindInvalidDestination, ChunkID: -1, Err: err}
	}
	if !info.IsDir() {
		return &Error{Kind: KindInvalidDestination, ChunkID: -1, Err: os.ErrInvalid}
	}
	return nil
}

func filenameFromURL(sourceURL string) string {
	name := "download"
	if u, err := url.Parse(sourceURL); err == nil {
		base := filepath.Base(u.Path)
		if base != "" && base != "." && base != "/" {
			name = base
		}
	}
	return utils.SanitizeFilename(name)
}

// nextCopyName produces "<stem>(COPY)<ext>", and "<stem>(COPY) (n)<ext>" on
// repeated collisions, by probing until a free name is found by the caller's
// resolve loop.
func nextCopyName(dest string) string {
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	ext := utils.FileExtension(base)
	stem := strings.TrimSuffix(base, ext)

	if !strings.Contains(stem, "(COPY)") {
		return filepath.Join(dir, stem+"(COPY)"+ext)
	}

	// Already a copy: append/bump a numeric suffix: "(COPY) (2)", "(COPY) (3)", ...
	n := 2
	if idx := strings.LastIndex(stem, "(COPY) ("); idx >= 0 {
		closeIdx := strings.LastIndex(stem, ")")
		if closeIdx > idx {
			if v, err := strconv.Atoi(stem[idx+len("(COPY) (") : closeIdx]); err == nil {
				n = v + 1
				stem = stem[:idx+len("(COPY)")]
			}
		}
	}
	return filepath.Join(dir, stem+" ("+strconv.Itoa(n)+")"+ext)
}
