package interpolate

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// site is a valid sample location carrying its measurement.
type site struct {
	X, Y  float64
	Value float64
}

// Compare implements kdtree.Comparable.
func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(site)
	switch d {
	case 0:
		return s.X - q.X
	case 1:
		return s.Y - q.Y
	default:
		panic("interpolate: illegal dimension")
	}
}

// Dims implements kdtree.Comparable.
func (s site) Dims() int { return 2 }

// Distance returns the squared planar distance.
func (s site) Distance(c kdtree.Comparable) float64 {
	q := c.(site)
	dx, dy := s.X-q.X, s.Y-q.Y
	return dx*dx + dy*dy
}

// sites satisfies kdtree.Interface.
type sites []site

func (p sites) Index(i int) kdtree.Comparable         { return p[i] }
func (p sites) Len() int                              { return len(p) }
func (p sites) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot partitions around the median along d.
func (p sites) Pivot(d kdtree.Dim) int {
	pl := plane{sites: p, Dim: d}
	return kdtree.Partition(pl, kdtree.MedianOfMedians(pl))
}

// plane orders sites along one dimension for partitioning.
type plane struct {
	sites
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.sites[i].X < p.sites[j].X
	case 1:
		return p.sites[i].Y < p.sites[j].Y
	default:
		panic("interpolate: illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{sites: p.sites[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.sites[i], p.sites[j] = p.sites[j], p.sites[i]
}

// index is a read-only k-d tree over sample sites. Queries never mutate the
// tree, so one index serves every worker of a call.
type index struct {
	tree *kdtree.Tree
	all  sites
}

func newIndex(s sites) *index {
	// kdtree.New reorders its input; keep an untouched copy for global mode.
	all := make(sites, len(s))
	copy(all, s)
	work := make(sites, len(s))
	copy(work, s)
	return &index{tree: kdtree.New(work, false), all: all}
}

// nearest appends up to k sites nearest q to dst, with squared distances.
func (ix *index) nearest(q site, k int, dst []neighbor) []neighbor {
	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, q)
	return collect(keep.Heap, dst)
}

// within appends every site within radius of q to dst.
func (ix *index) within(q site, radius float64, dst []neighbor) []neighbor {
	keep := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keep, q)
	return collect(keep.Heap, dst)
}

type neighbor struct {
	value float64
	dist2 float64
}

func collect(h kdtree.Heap, dst []neighbor) []neighbor {
	for _, cd := range h {
		// Keepers seed their heap with a sentinel that has no Comparable.
		s, ok := cd.Comparable.(site)
		if !ok {
			continue
		}
		dst = append(dst, neighbor{value: s.Value, dist2: cd.Dist})
	}
	return dst
}
