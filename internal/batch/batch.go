// Package batch groups prepared items into request-sized batches.
package batch

// Sized is anything with a byte size.
type Sized interface {
	Size() int64
}

type Batch[T Sized] struct {
	Items      []T
	TotalBytes int64
}

// Plan packs items into batches of at most maxBatchBytes, in order. A batch is
// closed when adding the next item would exceed the limit; an item larger than
// the limit gets a batch of its own.
func Plan[T Sized](items []T, maxBatchBytes int64) []Batch[T] {
	var batches []Batch[T]
	var cur Batch[T]
	for _, item := range items {
		size := item.Size()
		if len(cur.Items) > 0 && cur.TotalBytes+size > maxBatchBytes {
			batches = append(batches, cur)
			cur = Batch[T]{}
		}
		cur.Items = append(cur.Items, item)
		cur.TotalBytes += size
	}
	if len(cur.Items) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
