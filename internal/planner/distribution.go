package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/phrazzld/questgen/internal/domain"
)

// proposalEntry is deliberately loose: the model may send anything.
type proposalEntry struct {
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	Count      int    `json:"count"`
}

// RepairDistribution turns a model's proposed distribution into one that
// uses only the requested types and sums to total. Entries with unknown or
// unrequested types or non-positive counts are dropped, an invalid
// difficulty becomes fallback, and a wrong sum is rescaled by the largest
// remainder method. When nothing usable remains the total is spread
// uniformly over types. The returned notes describe every repair made.
func RepairDistribution(raw []byte, types []domain.QuestionType, total int, fallback domain.Difficulty) ([]domain.DistributionEntry, []string) {
	if !fallback.Valid() {
		fallback = domain.DifficultyMedium
	}
	var notes []string

	entries, err := decodeProposal(raw)
	if err != nil {
		notes = append(notes, fmt.Sprintf("unusable distribution proposal: %v", err))
	}

	allowed := make(map[domain.QuestionType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	type key struct {
		t domain.QuestionType
		d domain.Difficulty
	}
	merged := make(map[key]int)
	var order []key
	dropped, clamped := 0, 0
	for _, e := range entries {
		t := domain.QuestionType(e.Type)
		if !allowed[t] || e.Count <= 0 {
			dropped++
			continue
		}
		d := domain.Difficulty(e.Difficulty)
		if !d.Valid() {
			d = fallback
		}
		k := key{t, d}
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		// no single entry can ask for more than the whole plan
		count := e.Count
		if count > total {
			count = total
			clamped++
		}
		merged[k] = min(merged[k]+count, total)
	}
	if dropped > 0 {
		notes = append(notes, fmt.Sprintf("dropped %d proposal entries with unknown types or counts", dropped))
	}
	if clamped > 0 {
		notes = append(notes, fmt.Sprintf("clamped %d proposal counts to %d", clamped, total))
	}

	if len(order) == 0 {
		notes = append(notes, "fell back to a uniform distribution")
		return Uniform(types, total, fallback), notes
	}

	dist := make([]domain.DistributionEntry, len(order))
	for i, k := range order {
		dist[i] = domain.DistributionEntry{Type: k.t, Difficulty: k.d, Count: merged[k]}
	}
	if sum := domain.DistributionTotal(dist); sum != total {
		notes = append(notes, fmt.Sprintf("rescaled proposal from %d to %d questions", sum, total))
		dist = Rescale(dist, total)
	}
	if len(dist) == 0 {
		notes = append(notes, "fell back to a uniform distribution")
		return Uniform(types, total, fallback), notes
	}
	return dist, notes
}

func decodeProposal(raw []byte) ([]proposalEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	var entries []proposalEntry
	if raw[0] == '{' {
		var wrapped struct {
			Distribution []proposalEntry `json:"distribution"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Distribution, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Rescale scales counts to sum to total using the largest remainder
// method. Ties go to the earlier entry. Entries scaled to zero are removed.
// It returns nil when total is not positive, when no count is positive, or
// when the counts do not sum within an int.
func Rescale(dist []domain.DistributionEntry, total int) []domain.DistributionEntry {
	if total <= 0 {
		return nil
	}
	sum := 0
	for _, e := range dist {
		if e.Count < 0 || e.Count > math.MaxInt-sum {
			return nil
		}
		sum += e.Count
	}
	if sum == 0 {
		return nil
	}

	type share struct {
		idx       int
		remainder uint64
	}
	out := make([]domain.DistributionEntry, len(dist))
	shares := make([]share, len(dist))
	assigned := 0
	for i, e := range dist {
		// count*total can exceed 64 bits; count <= sum keeps the quotient
		// within total
		hi, lo := bits.Mul64(uint64(e.Count), uint64(total))
		quo, rem := bits.Div64(hi, lo, uint64(sum))
		out[i] = e
		out[i].Count = int(quo)
		assigned += out[i].Count
		shares[i] = share{idx: i, remainder: rem}
	}
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].remainder > shares[b].remainder
	})
	for i := 0; assigned < total; i++ {
		out[shares[i%len(shares)].idx].Count++
		assigned++
	}
	return dropEmpty(out)
}

// Uniform spreads total evenly over types, giving the remainder to the
// first types.
func Uniform(types []domain.QuestionType, total int, difficulty domain.Difficulty) []domain.DistributionEntry {
	if len(types) == 0 || total <= 0 {
		return nil
	}
	each, rest := total/len(types), total%len(types)
	out := make([]domain.DistributionEntry, len(types))
	for i, t := range types {
		n := each
		if i < rest {
			n++
		}
		out[i] = domain.DistributionEntry{Type: t, Difficulty: difficulty, Count: n}
	}
	return dropEmpty(out)
}

func dropEmpty(dist []domain.DistributionEntry) []domain.DistributionEntry {
	out := dist[:0]
	for _, e := range dist {
		if e.Count > 0 {
			out = append(out, e)
		}
	}
	return out
}
