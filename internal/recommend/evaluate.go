// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package recommend

import (
	"math"
	"math/rand"
	"sort"
)

// Split is a user-level train/test partition of the interaction log.
// Test users keep part of their history in the train set so the model
// can place them; the held-out remainder is what evaluation predicts.
type Split struct {
	Train []Interaction

	// Holdout maps test user id to the held-out item set.
	Holdout map[int64]map[int64]struct{}
}

// NewSplit builds a seeded user-level holdout split. A user is
// hold-out-able with two or more interactions; HoldoutFraction of those
// users (at least one) move to the test side, where half of each user's
// interactions (rounded down, at least one kept on each side) are held
// out. Fewer than minUsers hold-out-able users is ErrInsufficientData.
func NewSplit(interactions []Interaction, fraction float64, minUsers int, seed int64) (*Split, error) {
	byUser := make(map[int64][]Interaction)
	var userOrder []int64
	for _, inter := range interactions {
		if _, ok := byUser[inter.UserID]; !ok {
			userOrder = append(userOrder, inter.UserID)
		}
		byUser[inter.UserID] = append(byUser[inter.UserID], inter)
	}

	var eligible []int64
	for _, u := range userOrder {
		if len(byUser[u]) >= 2 {
			eligible = append(eligible, u)
		}
	}
	if len(eligible) < minUsers {
		return nil, ErrInsufficientData
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

	numTest := int(float64(len(eligible)) * fraction)
	if numTest < 1 {
		numTest = 1
	}
	testUsers := make(map[int64]struct{}, numTest)
	for _, u := range eligible[:numTest] {
		testUsers[u] = struct{}{}
	}

	split := &Split{Holdout: make(map[int64]map[int64]struct{}, numTest)}
	for _, u := range userOrder {
		inters := byUser[u]
		if _, isTest := testUsers[u]; !isTest {
			split.Train = append(split.Train, inters...)
			continue
		}

		// Deterministic per-user shuffle, half held out.
		perm := rng.Perm(len(inters))
		cut := len(inters) / 2
		if cut < 1 {
			cut = 1
		}
		held := make(map[int64]struct{}, cut)
		for i, p := range perm {
			if i < cut {
				held[inters[p].ItemID] = struct{}{}
			} else {
				split.Train = append(split.Train, inters[p])
			}
		}
		split.Holdout[u] = held
	}
	return split, nil
}

// Evaluation is the input to ranking scorers: the recommended top-K
// lists per test user plus corpus statistics.
type Evaluation struct {
	// Recommended maps test user id to the ranked recommendation list.
	Recommended map[int64][]int64

	// Holdout is the relevant item set per test user.
	Holdout map[int64]map[int64]struct{}

	// Popularity counts train-set users per item.
	Popularity map[int64]int

	// NumUsers is the train-set user count.
	NumUsers int
}

// Scorer computes one ranking quality number at a cutoff.
type Scorer func(ev Evaluation, k int) float64

// MAP is mean average precision at k over test users.
func MAP(ev Evaluation, k int) float64 {
	var total float64
	var users int
	for user, held := range ev.Holdout {
		recs := ev.Recommended[user]
		if len(recs) > k {
			recs = recs[:k]
		}
		users++

		var hits int
		var ap float64
		for rank, item := range recs {
			if _, ok := held[item]; ok {
				hits++
				ap += float64(hits) / float64(rank+1)
			}
		}
		denom := len(held)
		if denom > k {
			denom = k
		}
		if denom > 0 {
			total += ap / float64(denom)
		}
	}
	if users == 0 {
		return 0
	}
	return total / float64(users)
}

// MIUF is mean inverse user frequency at k: the novelty of the
// recommended lists, higher for less popular items.
func MIUF(ev Evaluation, k int) float64 {
	if ev.NumUsers == 0 {
		return 0
	}
	var total float64
	var count int
	for _, recs := range ev.Recommended {
		if len(recs) > k {
			recs = recs[:k]
		}
		for _, item := range recs {
			pop := ev.Popularity[item]
			if pop < 1 {
				pop = 1
			}
			total += math.Log2(float64(ev.NumUsers) / float64(pop))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// Serendipity at k is the rate of relevant hits outside the globally
// popular head: a hit counts only when the item is not among the k most
// popular items overall.
func Serendipity(ev Evaluation, k int) float64 {
	head := popularHead(ev.Popularity, k)

	var total float64
	var users int
	for user, held := range ev.Holdout {
		recs := ev.Recommended[user]
		if len(recs) > k {
			recs = recs[:k]
		}
		users++

		var unexpected int
		for _, item := range recs {
			if _, relevant := held[item]; !relevant {
				continue
			}
			if _, obvious := head[item]; obvious {
				continue
			}
			unexpected++
		}
		total += float64(unexpected) / float64(k)
	}
	if users == 0 {
		return 0
	}
	return total / float64(users)
}

// popularHead returns the k most popular items.
func popularHead(popularity map[int64]int, k int) map[int64]struct{} {
	type entry struct {
		item int64
		pop  int
	}
	entries := make([]entry, 0, len(popularity))
	for item, pop := range popularity {
		entries = append(entries, entry{item, pop})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].pop != entries[j].pop {
			return entries[i].pop > entries[j].pop
		}
		return entries[i].item < entries[j].item
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	head := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		head[e.item] = struct{}{}
	}
	return head
}

// itemPopularity counts distinct train users per item.
func itemPopularity(train []Interaction) map[int64]int {
	seen := make(map[[2]int64]struct{}, len(train))
	pop := make(map[int64]int)
	for _, inter := range train {
		key := [2]int64{inter.UserID, inter.ItemID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pop[inter.ItemID]++
	}
	return pop
}
