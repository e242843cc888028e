package container

import (
	"sync"
)

// IIncrementalItem 可放入增量数组的元素
type IIncrementalItem interface {
	Index() int
	SetIndex(index int)
}

// IncrementalItemBase 可嵌入的IIncrementalItem实现
type IncrementalItemBase struct {
	index int
}

func (b *IncrementalItemBase) Index() int {
	return b.index
}

func (b *IncrementalItemBase) SetIndex(index int) {
	b.index = index
}

// IncrementalArray 增量数组
// 功能：Add/Remove可在任意协程调用，在Prepare时统一生效
// 说明：Prepare保持元素的相对顺序（先加入者在前），使遍历顺序可复现
type IncrementalArray[T IIncrementalItem] struct {
	data []T

	mtx    sync.Mutex
	add    []T
	remove []T
}

func NewIncrementalArray[T IIncrementalItem]() *IncrementalArray[T] {
	return &IncrementalArray[T]{
		data:   make([]T, 0),
		add:    make([]T, 0),
		remove: make([]T, 0),
	}
}

// Len 已生效的元素数
func (a *IncrementalArray[T]) Len() int {
	return len(a.data)
}

// Data 已生效的元素，调用方不得修改
func (a *IncrementalArray[T]) Data() []T {
	return a.data
}

// Add 增加元素（Prepare时生效）
func (a *IncrementalArray[T]) Add(value T) {
	value.SetIndex(-1)
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.add = append(a.add, value)
}

// Remove 删除元素（Prepare时生效）
// 说明：只对已生效的元素有效，重复删除同一元素只生效一次
func (a *IncrementalArray[T]) Remove(value T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.remove = append(a.remove, value)
}

// Prepare 执行积压的增删
// 算法说明：按下标标记待删除元素，稳定压缩剩余元素后追加新元素，最后重建下标
func (a *IncrementalArray[T]) Prepare() {
	a.mtx.Lock()
	add, remove := a.add, a.remove
	a.add, a.remove = make([]T, 0), make([]T, 0)
	a.mtx.Unlock()

	if len(remove) > 0 {
		drop := make([]bool, len(a.data))
		for _, x := range remove {
			if i := x.Index(); i >= 0 && i < len(a.data) {
				drop[i] = true
			}
		}
		kept := a.data[:0]
		for i, x := range a.data {
			if drop[i] {
				x.SetIndex(-1)
			} else {
				kept = append(kept, x)
			}
		}
		clear(a.data[len(kept):])
		a.data = kept
	}
	a.data = append(a.data, add...)
	for i, x := range a.data {
		x.SetIndex(i)
	}
}
