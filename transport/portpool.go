package transport

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/netlab-course/pseudonet/addr"
)

// portPool hands out ephemeral local ports for outbound connect() calls,
// adapted from the teacher's lib/portpool.go ring-buffer allocator: a
// random permutation of the range is consumed and returned circularly so
// recently-freed ports aren't reused immediately.
type portPool struct {
	ports           []addr.Port
	capacity        int
	minPort         int
	readIdx         int
	writeIdx        int
	isFull, isEmpty bool
	allocatedAt     map[addr.Port]time.Time
	mtx             sync.Mutex
}

func newPortPool(minPort, maxPort int) *portPool {
	capacity := maxPort - minPort + 1
	perm := rand.Perm(capacity)
	ports := make([]addr.Port, capacity)
	for i, v := range perm {
		ports[i] = addr.Port(minPort + v)
	}
	return &portPool{
		ports:       ports,
		capacity:    capacity,
		minPort:     minPort,
		allocatedAt: make(map[addr.Port]time.Time),
	}
}

func (p *portPool) allocate() (addr.Port, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.isEmpty {
		return 0, fmt.Errorf("transport: ephemeral port pool exhausted")
	}

	port := p.ports[p.readIdx]
	p.readIdx = (p.readIdx + 1) % p.capacity
	if p.readIdx == p.writeIdx {
		p.isEmpty = true
	}
	p.isFull = false
	p.allocatedAt[port] = time.Now()
	return port, nil
}

// release returns port to the pool. Ports never handed out by allocate
// (e.g. a listener's fixed bound port on a passively-opened connection)
// are silently ignored.
func (p *portPool) release(port addr.Port) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.allocatedAt[port]; !ok {
		return
	}
	if p.isFull {
		return
	}
	p.ports[p.writeIdx] = port
	p.writeIdx = (p.writeIdx + 1) % p.capacity
	if p.writeIdx == p.readIdx {
		p.isFull = true
	}
	p.isEmpty = false
	delete(p.allocatedAt, port)
}
