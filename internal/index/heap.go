package index

// candidate pairs a node slot with its distance to the current query.
type candidate struct {
	idx  uint32
	dist float64
}

// minHeap orders candidates closest-first.
type minHeap []candidate

func (h minHeap) Len() int { return len(h) }

func (h *minHeap) push(c candidate) {
	*h = append(*h, c)
	i := len(*h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if (*h)[parent].dist <= (*h)[i].dist {
			break
		}
		(*h)[parent], (*h)[i] = (*h)[i], (*h)[parent]
		i = parent
	}
}

func (h *minHeap) pop() candidate {
	top := (*h)[0]
	last := len(*h) - 1
	(*h)[0] = (*h)[last]
	*h = (*h)[:last]
	h.siftDown(0)
	return top
}

func (h minHeap) siftDown(i int) {
	n := len(h)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h[left].dist < h[smallest].dist {
			smallest = left
		}
		if right < n && h[right].dist < h[smallest].dist {
			smallest = right
		}
		if smallest == i {
			return
		}
		h[i], h[smallest] = h[smallest], h[i]
		i = smallest
	}
}

// maxHeap orders candidates farthest-first, used as a bounded result set
// where the worst element is evicted on overflow.
type maxHeap []candidate

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) peek() candidate { return h[0] }

func (h *maxHeap) push(c candidate) {
	*h = append(*h, c)
	i := len(*h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if (*h)[parent].dist >= (*h)[i].dist {
			break
		}
		(*h)[parent], (*h)[i] = (*h)[i], (*h)[parent]
		i = parent
	}
}

func (h *maxHeap) pop() candidate {
	top := (*h)[0]
	last := len(*h) - 1
	(*h)[0] = (*h)[last]
	*h = (*h)[:last]
	h.siftDown(0)
	return top
}

func (h maxHeap) siftDown(i int) {
	n := len(h)
	for {
		left, right := 2*i+1, 2*i+2
		largest := i
		if left < n && h[left].dist > h[largest].dist {
			largest = left
		}
		if right < n && h[right].dist > h[largest].dist {
			largest = right
		}
		if largest == i {
			return
		}
		h[i], h[largest] = h[largest], h[i]
		i = largest
	}
}
