// Package phash computes perceptual frame hashes and groups visually
// similar frames with a single-pass greedy clustering over hamming
// distance.
package phash

import (
	"fmt"
	"image"
	"math/bits"
	"os"

	"github.com/corona10/goimagehash"

	_ "image/jpeg"
	_ "image/png"
)

// HashFile computes the difference hash of one image file.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("phash: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("phash: decode %s: %w", path, err)
	}
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return 0, fmt.Errorf("phash: hash %s: %w", path, err)
	}
	return hash.GetHash(), nil
}

// Distance returns the hamming distance between two hashes.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Cluster is one group of visually similar frames. Representative is the
// index of the first frame assigned, which seeded the cluster.
type Cluster struct {
	ID             int
	Representative int
	Members        []int
}

// Assign groups hashes with single-pass greedy clustering: each hash joins
// the nearest existing cluster whose representative is within threshold,
// otherwise it seeds a new cluster. Ties go to the earliest-created
// cluster, so the assignment is fully deterministic in input order.
func Assign(hashes []uint64, threshold int) []Cluster {
	var clusters []Cluster
	for i, hash := range hashes {
		best := -1
		bestDistance := 0
		for c := range clusters {
			d := Distance(hash, hashes[clusters[c].Representative])
			if d > threshold {
				continue
			}
			if best < 0 || d < bestDistance {
				best = c
				bestDistance = d
			}
		}
		if best < 0 {
			clusters = append(clusters, Cluster{
				ID:             len(clusters),
				Representative: i,
				Members:        []int{i},
			})
			continue
		}
		clusters[best].Members = append(clusters[best].Members, i)
	}
	return clusters
}

// SpacedMembers returns up to max member indices spaced evenly across the
// cluster's timeline, always including the first and last member when
// trimming is needed.
func (c Cluster) SpacedMembers(max int) []int {
	if max <= 0 || len(c.Members) == 0 {
		return nil
	}
	if len(c.Members) <= max {
		return append([]int(nil), c.Members...)
	}
	if max == 1 {
		return []int{c.Members[0]}
	}
	out := make([]int, 0, max)
	step := float64(len(c.Members)-1) / float64(max-1)
	last := -1
	for i := range max {
		idx := int(float64(i)*step + 0.5)
		if idx >= len(c.Members) {
			idx = len(c.Members) - 1
		}
		if idx == last {
			continue
		}
		out = append(out, c.Members[idx])
		last = idx
	}
	return out
}
