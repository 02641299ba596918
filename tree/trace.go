package tree

import (
	"bytes"
	"runtime/debug"
)

// captureTrace returns the current goroutine stack with the frames of the
// tree itself cut off, so the first frame is the registering caller.
func captureTrace() []byte {
	stack := debug.Stack()
	lines := bytes.Split(stack, []byte("\n"))
	if len(lines) < 2 {
		return stack
	}

	// header line, then file/func pairs
	out := [][]byte{lines[0]}
	i := 1
	for ; i+1 < len(lines); i += 2 {
		if !bytes.Contains(lines[i], []byte("runtime/debug.Stack")) &&
			!bytes.Contains(lines[i], []byte("disposetree/tree.")) {
			break
		}
	}
	out = append(out, lines[i:]...)
	return bytes.Join(out, []byte("\n"))
}
