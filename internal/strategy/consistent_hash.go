package strategy

import (
	"hash/crc32"
	"sort"
	"strconv"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
)

// consistentHashStrategy keeps a ring over the route's full backend set.
// Unhealthy owners are skipped by walking the ring, so only the keys they
// owned move.
type consistentHashStrategy struct {
	positions []uint32
	owners    map[uint32]*backend.Backend
}

func NewConsistentHashStrategy(virtualNodes int, backends []*backend.Backend) Strategy {
	if virtualNodes <= 0 {
		virtualNodes = 100
	}

	s := &consistentHashStrategy{
		positions: make([]uint32, 0, len(backends)*virtualNodes),
		owners:    make(map[uint32]*backend.Backend, len(backends)*virtualNodes),
	}

	for _, b := range backends {
		for i := 0; i < virtualNodes; i++ {
			hash := crc32.ChecksumIEEE([]byte(b.URL().String() + "#" + strconv.Itoa(i)))
			if _, taken := s.owners[hash]; taken {
				continue
			}
			s.positions = append(s.positions, hash)
			s.owners[hash] = b
		}
	}

	sort.Slice(s.positions, func(i, j int) bool { return s.positions[i] < s.positions[j] })
	return s
}

func (s *consistentHashStrategy) SelectBackend(backends []*backend.Backend, key string) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}
	if len(s.positions) == 0 {
		return backends[0]
	}

	allowed := make(map[*backend.Backend]struct{}, len(backends))
	for _, b := range backends {
		allowed[b] = struct{}{}
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	start := sort.Search(len(s.positions), func(i int) bool {
		return s.positions[i] >= hash
	})

	for i := 0; i < len(s.positions); i++ {
		owner := s.owners[s.positions[(start+i)%len(s.positions)]]
		if _, ok := allowed[owner]; ok {
			return owner
		}
	}

	// Candidates outside the ring.
	return backends[0]
}
