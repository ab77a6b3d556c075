package core

// Handle addresses an entry in an OrderQueue. Handles stay valid until the
// entry is popped or removed, after which the slot may be reused.
type Handle int32

// slot 0 is never handed out so the zero value of OrderQueue is an empty queue
const nilHandle Handle = 0

type queueNode struct {
	order *Order
	prev  Handle
	next  Handle
}

// OrderQueue is a FIFO of orders backed by a slot arena. Nodes link to each
// other by slot index, so append, pop and removal by handle are all O(1)
// without the queue handing out pointers into its storage.
type OrderQueue struct {
	nodes []queueNode
	free  []Handle
	head  Handle
	tail  Handle
	size  int
}

// NewOrderQueue creates an empty queue
func NewOrderQueue() *OrderQueue {
	return &OrderQueue{}
}

func (q *OrderQueue) reset() {
	q.nodes = q.nodes[:1]
	q.free = q.free[:0]
	q.head = nilHandle
	q.tail = nilHandle
	q.size = 0
}

// Len returns the number of queued orders
func (q *OrderQueue) Len() int { return q.size }

// IsEmpty reports whether the queue holds no orders
func (q *OrderQueue) IsEmpty() bool { return q.size == 0 }

// Append adds the order at the tail and returns its handle
func (q *OrderQueue) Append(order *Order) Handle {
	var h Handle
	if n := len(q.free); n > 0 {
		h = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		if len(q.nodes) == 0 {
			q.nodes = append(q.nodes, queueNode{})
		}
		q.nodes = append(q.nodes, queueNode{})
		h = Handle(len(q.nodes) - 1)
	}

	q.nodes[h] = queueNode{order: order, prev: q.tail, next: nilHandle}
	if q.tail == nilHandle {
		q.head = h
	} else {
		q.nodes[q.tail].next = h
	}
	q.tail = h
	q.size++
	return h
}

// Head returns the oldest order without removing it
func (q *OrderQueue) Head() *Order {
	if q.head == nilHandle {
		return nil
	}
	return q.nodes[q.head].order
}

// PopHead removes and returns the oldest order. ok is false when the queue is empty.
func (q *OrderQueue) PopHead() (order *Order, ok bool) {
	if q.head == nilHandle {
		return nil, false
	}
	return q.unlink(q.head), true
}

// Remove detaches the entry behind h. It returns false for a handle that is
// out of range or no longer in use.
func (q *OrderQueue) Remove(h Handle) (*Order, bool) {
	if !q.live(h) {
		return nil, false
	}
	return q.unlink(h), true
}

// At returns the order stored behind h, or nil for a stale handle
func (q *OrderQueue) At(h Handle) *Order {
	if !q.live(h) {
		return nil
	}
	return q.nodes[h].order
}

// Each calls fn for every order from head to tail until fn returns false
func (q *OrderQueue) Each(fn func(h Handle, order *Order) bool) {
	for h := q.head; h != nilHandle; h = q.nodes[h].next {
		if !fn(h, q.nodes[h].order) {
			return
		}
	}
}

func (q *OrderQueue) live(h Handle) bool {
	return h > nilHandle && int(h) < len(q.nodes) && q.nodes[h].order != nil
}

func (q *OrderQueue) unlink(h Handle) *Order {
	n := q.nodes[h]
	if n.prev != nilHandle {
		q.nodes[n.prev].next = n.next
	} else {
		q.head = n.next
	}
	if n.next != nilHandle {
		q.nodes[n.next].prev = n.prev
	} else {
		q.tail = n.prev
	}

	q.nodes[h] = queueNode{prev: nilHandle, next: nilHandle}
	q.size--
	if q.size == 0 {
		// every slot is free again, start over with a compact arena
		q.reset()
	} else {
		q.free = append(q.free, h)
	}
	return n.order
}
