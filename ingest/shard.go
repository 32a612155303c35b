package ingest

import (
	"strings"

	"github.com/pilosa/lcdk"
	"github.com/pkg/errors"
)

// ShardPolicy decides which worker writes which entry.
type ShardPolicy int

const (
	// RoundRobin gives entry i to worker i mod n.
	RoundRobin ShardPolicy = iota
	// Contiguous gives each worker one run of consecutive entries.
	Contiguous
)

func (p ShardPolicy) String() string {
	if p == Contiguous {
		return "contiguous"
	}
	return "round-robin"
}

// ParseShardPolicy is the inverse of ShardPolicy.String.
func ParseShardPolicy(s string) (ShardPolicy, error) {
	switch strings.ToLower(s) {
	case "", "round-robin", "roundrobin":
		return RoundRobin, nil
	case "contiguous":
		return Contiguous, nil
	}
	return 0, errors.Errorf("unknown shard policy '%s'", s)
}

// Shard splits entries into n disjoint shards whose union is entries. Some
// shards are empty when there are fewer entries than workers.
func Shard(entries []*lcdk.Source, n int, policy ShardPolicy) [][]*lcdk.Source {
	if n < 1 {
		n = 1
	}
	shards := make([][]*lcdk.Source, n)
	switch policy {
	case Contiguous:
		size := (len(entries) + n - 1) / n
		for i := 0; i < n; i++ {
			start := i * size
			if start >= len(entries) {
				break
			}
			end := start + size
			if end > len(entries) {
				end = len(entries)
			}
			shards[i] = entries[start:end]
		}
	default:
		for i, e := range entries {
			shards[i%n] = append(shards[i%n], e)
		}
	}
	return shards
}
