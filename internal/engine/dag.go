package engine

import (
	"fmt"
	"sort"
)

// Vertex — вершина в DAG.
type Vertex struct {
	// ID — идентификатор вершины.
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — вершины, от которых зависит эта вершина.
	DependsOn []*Vertex

	// Dependents — вершины, которые зависят от этой вершины.
	Dependents []*Vertex

	// seq — порядковый номер добавления, используется для стабильной сортировки.
	seq int
}

// DAG — направленный ациклический граф над строковыми идентификаторами.
//
// Используется и для графа модальностей, и для графа узлов run.
// Порядок добавления вершин сохраняется: среди независимых вершин
// первой в топологическом порядке идёт добавленная раньше.
type DAG struct {
	vertices map[string]*Vertex
	added    []*Vertex
}

// NewDAG создаёт пустой граф.
func NewDAG() *DAG {
	return &DAG{
		vertices: make(map[string]*Vertex),
	}
}

// AddVertex добавляет вершину.
func (d *DAG) AddVertex(id string) (*Vertex, error) {
	if _, exists := d.vertices[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	v := &Vertex{
		ID:         id,
		DependsOn:  make([]*Vertex, 0),
		Dependents: make([]*Vertex, 0),
		seq:        len(d.added),
	}
	d.vertices[id] = v
	d.added = append(d.added, v)
	return v, nil
}

// AddEdge добавляет ребро from → to (to зависит от from).
// Повторное ребро игнорируется, чтобы не учитывать InDegree дважды.
func (d *DAG) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfDependency, from)
	}
	src, ok := d.vertices[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingDependency, from)
	}
	dst, ok := d.vertices[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingDependency, to)
	}

	for _, dep := range dst.DependsOn {
		if dep == src {
			return nil
		}
	}
	src.Dependents = append(src.Dependents, dst)
	dst.DependsOn = append(dst.DependsOn, src)
	dst.InDegree++
	return nil
}

// Vertex возвращает вершину по ID.
func (d *DAG) Vertex(id string) (*Vertex, bool) {
	v, ok := d.vertices[id]
	return v, ok
}

// Size возвращает количество вершин.
func (d *DAG) Size() int {
	return len(d.vertices)
}

// Roots возвращает вершины без входящих рёбер в порядке добавления.
func (d *DAG) Roots() []*Vertex {
	roots := make([]*Vertex, 0)
	for _, v := range d.added {
		if v.InDegree == 0 {
			roots = append(roots, v)
		}
	}
	return roots
}

// Sort выполняет топологическую сортировку (алгоритм Кана).
//
// Очередь готовых вершин упорядочена по порядку добавления, поэтому
// результат детерминирован. При цикле возвращает *CycleError.
func (d *DAG) Sort() ([]*Vertex, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[string]int, len(d.vertices))
	for id, v := range d.vertices {
		inDegree[id] = v.InDegree
	}

	queue := d.Roots()
	order := make([]*Vertex, 0, len(d.vertices))

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)

		for _, dependent := range v.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = insertBySeq(queue, dependent)
			}
		}
	}

	// Если не все вершины обработаны — есть цикл
	if len(order) != len(d.vertices) {
		remaining := make([]string, 0, len(d.vertices)-len(order))
		for _, v := range d.added {
			if inDegree[v.ID] > 0 {
				remaining = append(remaining, v.ID)
			}
		}
		return nil, &CycleError{Nodes: remaining}
	}

	return order, nil
}

// insertBySeq вставляет вершину в очередь, сохраняя порядок добавления.
func insertBySeq(queue []*Vertex, v *Vertex) []*Vertex {
	i := sort.Search(len(queue), func(i int) bool { return queue[i].seq > v.seq })
	queue = append(queue, nil)
	copy(queue[i+1:], queue[i:])
	queue[i] = v
	return queue
}
