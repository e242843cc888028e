package container

import "container/heap"

type item[T any] struct {
	value    T
	priority float64
}

// itemHeap 最小堆，优先级相同时由tie决定先后
type itemHeap[T any] struct {
	items []item[T]
	tie   func(a, b T) bool
}

func (h *itemHeap[T]) Len() int { return len(h.items) }

func (h *itemHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return h.tie != nil && h.tie(a.value, b.value)
}

func (h *itemHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap[T]) Push(x any) { h.items = append(h.items, x.(item[T])) }

func (h *itemHeap[T]) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// PriorityQueue 优先队列（优先级数值越小越先出队）
// 说明：tie用于优先级相同元素的确定性排序，为nil时顺序不确定
type PriorityQueue[T any] struct {
	h itemHeap[T]
}

// NewPriorityQueue 创建优先队列
// 参数：tie-优先级相同时a是否先于b出队
func NewPriorityQueue[T any](tie func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{h: itemHeap[T]{items: make([]item[T], 0), tie: tie}}
}

// Len 获取当前队列长度
func (q *PriorityQueue[T]) Len() int {
	return q.h.Len()
}

// HeapPush 加入元素
func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.h, item[T]{value: value, priority: priority})
}

// HeapPop 弹出优先级数值最小的元素
func (q *PriorityQueue[T]) HeapPop() (value T, priority float64) {
	it := heap.Pop(&q.h).(item[T])
	return it.value, it.priority
}
