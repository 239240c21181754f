package ports

// Queue is a bounded FIFO. Enqueue reports false instead of blocking when full.
type Queue[T any] interface {
	Enqueue(item T) bool
	DequeueBatch(max int) []T
	Len() int
}
