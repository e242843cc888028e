package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue(t *testing.T) {
	q := NewPriorityQueue(func(a, b string) bool { return a < b })
	q.HeapPush("c", 2)
	q.HeapPush("b", 1)
	q.HeapPush("a", 2)
	q.HeapPush("d", 0.5)
	assert.Equal(t, 4, q.Len())

	got := make([]string, 0)
	for q.Len() > 0 {
		v, _ := q.HeapPop()
		got = append(got, v)
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, got)
}

type node struct {
	IncrementalItemBase
	name string
}

func names(a *IncrementalArray[*node]) []string {
	res := make([]string, 0)
	for _, n := range a.Data() {
		res = append(res, n.name)
	}
	return res
}

func TestIncrementalArrayKeepsOrder(t *testing.T) {
	a := NewIncrementalArray[*node]()
	n1, n2, n3, n4 := &node{name: "1"}, &node{name: "2"}, &node{name: "3"}, &node{name: "4"}
	a.Add(n1)
	a.Add(n2)
	a.Add(n3)
	assert.Zero(t, a.Len())
	a.Prepare()
	assert.Equal(t, []string{"1", "2", "3"}, names(a))

	a.Remove(n1)
	a.Remove(n1)
	a.Add(n4)
	a.Prepare()
	assert.Equal(t, []string{"2", "3", "4"}, names(a))
	for i, n := range a.Data() {
		assert.Equal(t, i, n.Index())
	}

	a.Remove(n2)
	a.Remove(n4)
	a.Prepare()
	assert.Equal(t, []string{"3"}, names(a))
}

func TestIncrementalArrayIgnoresStaleRemove(t *testing.T) {
	a := NewIncrementalArray[*node]()
	n1, n2 := &node{name: "1"}, &node{name: "2"}
	a.Add(n1)
	a.Prepare()
	a.Remove(n1)
	a.Add(n2)
	a.Prepare()
	// n1已删除，再次删除不影响n2
	a.Remove(n1)
	a.Prepare()
	assert.Equal(t, []string{"2"}, names(a))
	assert.Equal(t, -1, n1.Index())
}
