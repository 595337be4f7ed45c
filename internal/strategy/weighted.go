package strategy

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
)

// weightedStrategy implements weighted rendezvous hashing: every backend gets
// a score of -ln(u)/weight with u derived from (key, backend), and the lowest
// score wins. Requests without a key draw u at random.
type weightedStrategy struct{}

func (w *weightedStrategy) SelectBackend(backends []*backend.Backend, key string) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	var chosen *backend.Backend
	best := math.Inf(1)

	for _, b := range backends {
		score := -math.Log(unitInterval(key, b)) / float64(b.Weight())
		if chosen == nil || score < best {
			chosen = b
			best = score
		}
	}

	return chosen
}

// unitInterval maps (key, backend) to (0, 1).
func unitInterval(key string, b *backend.Backend) float64 {
	var v uint64
	if key == "" {
		v = rand.Uint64()
	} else {
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(b.ID()))
		v = mix(h.Sum64())
	}
	return (float64(v>>11) + 0.5) / (1 << 53)
}

func NewWeightedStrategy() Strategy {
	return &weightedStrategy{}
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
