package protocol

// Records (a batch of) is the universal primitive for packet
// processing. Batching allows for writev() and other performance
// optimizations; Records converts easily to net.Buffers.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}
