package entity

// EdgeKey 无向边的规范化键（A <= B）
type EdgeKey struct {
	A, B string
}

// NewEdgeKey 构造规范化的无向边键
func NewEdgeKey(a, b string) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

// Arc 快照中的有向弧（无向边的一侧）
type Arc struct {
	To       string
	Weight   float64 // 基础通行时间 × 拥堵系数
	Distance float64
	Density  float64
}

// GraphSnapshot 路网的只读快照
// 说明：由路网管理器在调用时刻生成，拥堵系数此后的更新不影响快照
type GraphSnapshot struct {
	nodes map[string][]Arc
}

// NewGraphSnapshot 从邻接表创建快照，调用方保证各邻接表已按To排序
func NewGraphSnapshot(adjacency map[string][]Arc) *GraphSnapshot {
	return &GraphSnapshot{nodes: adjacency}
}

// Has 节点是否存在
func (g *GraphSnapshot) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Neighbors 节点的所有出弧
func (g *GraphSnapshot) Neighbors(id string) []Arc {
	return g.nodes[id]
}

// Arc 查找a到b的弧
func (g *GraphSnapshot) Arc(a, b string) (Arc, bool) {
	for _, arc := range g.nodes[a] {
		if arc.To == b {
			return arc, true
		}
	}
	return Arc{}, false
}

// Len 节点数
func (g *GraphSnapshot) Len() int {
	return len(g.nodes)
}
