package uploader

// Chunk is the byte range [Start, End) of a file which is sent as one
// request
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes in the chunk
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// NumChunks returns how many chunks of chunkSize are needed for size
// bytes, ie ceil(size / chunkSize)
func NumChunks(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Split cuts size bytes into chunks of chunkSize in index order. Only
// the last chunk may be short.
func Split(size, chunkSize int64) []Chunk {
	n := NumChunks(size, chunkSize)
	chunks := make([]Chunk, n)
	for i := range chunks {
		start := int64(i) * chunkSize
		chunks[i] = Chunk{
			Index: i,
			Start: start,
			End:   min(start+chunkSize, size),
		}
	}
	return chunks
}
