package sandbox

import (
	"bytes"
	"io"
	"sort"
)

// newRequestReader frames the request as a single newline-terminated JSON
// line; the runtime closes the child's stdin once it is drained.
func newRequestReader(payload []byte) io.Reader {
	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, '\n')
	return bytes.NewReader(framed)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
