// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import "fmt"

// ByteRange is an inclusive byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in r.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// Header renders r as an HTTP range value, e.g. "bytes=0-1023".
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Chunks partitions an object of size bytes into consecutive chunkSize ranges
// plus one trailing remainder range when size is not a multiple of chunkSize.
func Chunks(size, chunkSize int64) []ByteRange {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	n := size / chunkSize
	if size%chunkSize != 0 {
		n++
	}
	ranges := make([]ByteRange, 0, n)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize - 1
		if end >= size {
			end = size - 1
		}
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}
	return ranges
}
