package joblist

import (
	"strings"
)

// HeuristicMatch resolves a search term, which may be a relative path with or without an
// extension or a variant suffix, against candidate relative paths. It tries three passes of
// increasing breadth and returns the indices of the candidates matched by the first pass that
// matches anything:
//
//  1. the candidate ends with the term;
//  2. the candidate, extension stripped, ends with the term, extension stripped;
//  3. the candidate contains the extension-stripped term cut at the last '_' of its file name.
//
// Comparisons ignore case and treat '\' as '/'.
func HeuristicMatch(searchTerm string, candidates []string) []int {
	matched, _ := heuristicMatch(searchTerm, candidates)
	return matched
}

// heuristicMatch also returns the pass, 1 to 3, that matched, or 0.
func heuristicMatch(searchTerm string, candidates []string) ([]int, int) {
	term := normalizePath(searchTerm)
	if term == "" {
		return nil, 0
	}

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = normalizePath(c)
	}

	if m := matchAll(paths, func(p string) bool {
		return strings.HasSuffix(p, term)
	}); len(m) > 0 {
		return m, 1
	}

	bare := stripExtension(term)
	if bare != "" {
		if m := matchAll(paths, func(p string) bool {
			return strings.HasSuffix(stripExtension(p), bare)
		}); len(m) > 0 {
			return m, 2
		}
	}

	broad := stripVariantSuffix(bare)
	if broad == "" {
		return nil, 0
	}
	if m := matchAll(paths, func(p string) bool {
		return strings.Contains(p, broad)
	}); len(m) > 0 {
		return m, 3
	}
	return nil, 0
}

func matchAll(paths []string, pred func(string) bool) []int {
	var matched []int
	for i, p := range paths {
		if pred(p) {
			matched = append(matched, i)
		}
	}
	return matched
}

func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))
}

// stripExtension removes the final ".ext" of the file-name portion of p.
func stripExtension(p string) string {
	dir, file := splitFile(p)
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		file = file[:i]
	}
	return dir + file
}

// stripVariantSuffix removes everything from the last '_' of the file-name portion of p, so
// "textures/rock_diff" becomes "textures/rock".
func stripVariantSuffix(p string) string {
	dir, file := splitFile(p)
	if i := strings.LastIndexByte(file, '_'); i >= 0 {
		file = file[:i]
	}
	if file == "" {
		return strings.TrimSuffix(dir, "/")
	}
	return dir + file
}

// splitFile splits p after its last '/'.
func splitFile(p string) (dir, file string) {
	i := strings.LastIndexByte(p, '/')
	return p[:i+1], p[i+1:]
}
