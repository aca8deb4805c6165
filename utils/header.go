package utils

import "net/http"

// MergeHeader merges two http.Header objects into one, with additional's
// keys taking precedence. Safe to call with a nil original, which chunk
// workers do whenever the caller supplied no custom headers.
func MergeHeader(original, additional http.Header) http.Header {
	merged := original.Clone()
	if merged == nil {
		merged = make(http.Header, len(additional))
	}
	for k, v := range additional {
		merged[k] = v
	}
	return merged
}
