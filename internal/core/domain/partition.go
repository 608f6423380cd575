package domain

// Partition addresses one fixed-size slice of an upload.
type Partition struct {
	Session SessionKey
	// Page is the 1-indexed partition number.
	Page uint64
}

// Offset returns the absolute byte offset of the partition in the
// original file: (page-1) * pageSize.
func (p Partition) Offset(pageSize int64) int64 {
	return PartitionOffset(p.Page, pageSize)
}

// BlockOffset returns the absolute byte offset of block index within the
// partition: partitionOffset + index*bufferSize.
func (p Partition) BlockOffset(index uint64, md *Metadata) int64 {
	return BlockOffset(p.Page, index, md.PageSize, md.BufferSize)
}

// Size returns the number of bytes the partition holds once complete:
// min(pageSize, size - offset). ok is false when the upload size is not
// known, in which case only pageSize bounds the partition.
func (p Partition) Size(md *Metadata) (n int64, ok bool) {
	if md.Size <= 0 {
		return md.PageSize, false
	}
	rest := md.Size - p.Offset(md.PageSize)
	return max(0, min(md.PageSize, rest)), true
}

// PartitionOffset computes (page-1) * pageSize. Page 0 is not a valid
// partition and maps to 0.
func PartitionOffset(page uint64, pageSize int64) int64 {
	if page == 0 {
		return 0
	}
	return int64(page-1) * pageSize
}

// BlockOffset computes the absolute offset of a block. Every place that
// reports byte ranges to a sink goes through this function.
func BlockOffset(page, index uint64, pageSize, bufferSize int64) int64 {
	return PartitionOffset(page, pageSize) + int64(index)*bufferSize
}
