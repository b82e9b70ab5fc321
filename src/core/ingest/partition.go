package ingest

// Span is a half-open [Start, End) range over the original input sequence.
// Spans always use absolute indices, so a record's original position is
// recoverable from any batch without knowing its chunk.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

// Chunks partitions n records into contiguous spans of at most size records,
// preserving order. A non-positive size yields a single span covering
// everything.
func Chunks(n, size int) []Span {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		return []Span{{Start: 0, End: n}}
	}
	spans := make([]Span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// Batches partitions a chunk into contiguous spans of at most size records.
// The returned spans keep absolute indices.
func Batches(chunk Span, size int) []Span {
	if chunk.Len() <= 0 {
		return nil
	}
	if size <= 0 {
		return []Span{chunk}
	}
	spans := make([]Span, 0, (chunk.Len()+size-1)/size)
	for start := chunk.Start; start < chunk.End; start += size {
		end := start + size
		if end > chunk.End {
			end = chunk.End
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}
