// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package recommend

import (
	"context"
	"math"
	"sync"
)

// ALSConfig contains configuration for one factorization fit.
type ALSConfig struct {
	// Factors is the dimension of the free latent vectors.
	Factors int

	// Iterations is the number of alternating optimization rounds.
	Iterations int

	// Regularization is the L2 penalty on free dimensions.
	Regularization float64

	// Alpha scales the confidence transformation c = 1 + alpha * r.
	Alpha float64

	// MinConfidence drops interactions below this threshold.
	MinConfidence float64

	// Workers is the parallelism for factor updates.
	Workers int

	// Variant selects which side features participate.
	Variant FeatureVariant

	// FitFeaturesTogether solves feature weights jointly with the latent
	// factors each iteration. When false, the latent factors are fitted
	// first and feature weights are solved once against them.
	FitFeaturesTogether bool
}

// DefaultALSConfig returns the serving defaults.
func DefaultALSConfig() ALSConfig {
	return ALSConfig{
		Factors:        64,
		Iterations:     15,
		Regularization: 0.01,
		Alpha:          40.0,
		MinConfidence:  0.05,
		Workers:        4,
		Variant:        VariantNone,
	}
}

// ALS factorizes the confidence-weighted interaction matrix, following
// Hu, Koren, Volinsky, "Collaborative Filtering for Implicit Feedback
// Datasets" (2008): c_ui = 1 + alpha * r_ui, alternating ridge solves
// via Cholesky.
//
// Side features extend the shared representation with fixed blocks. The
// full vector layout is [latent | item-feature block | user-feature
// block]; the item-feature block is fixed on items (the embedding) and
// free on users (learned preference weights), and symmetrically for the
// user-feature block. A score is always the full dot product.
type ALS struct {
	cfg ALSConfig

	// dim is factors + item feature width + user feature width.
	dim      int
	itemFeat int
	userFeat int

	// X and Y are the user and item representation matrices.
	X [][]float64
	Y [][]float64

	userIndex   map[int64]int
	itemIndex   map[int64]int
	indexToUser []int64
	indexToItem []int64
}

// NewALS creates a trainer with defaults filled in.
func NewALS(cfg ALSConfig) *ALS {
	if cfg.Factors <= 0 {
		cfg.Factors = 64
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 15
	}
	if cfg.Regularization <= 0 {
		cfg.Regularization = 0.01
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 40.0
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.05
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantNone
	}
	return &ALS{
		cfg:       cfg,
		userIndex: make(map[int64]int),
		itemIndex: make(map[int64]int),
	}
}

// Train fits the model. Feature maps are consulted only for the blocks
// the configured variant enables.
func (a *ALS) Train(ctx context.Context, interactions []Interaction, feats Features) error {
	useItem := a.cfg.Variant == VariantItem || a.cfg.Variant == VariantItemUser
	useUser := a.cfg.Variant == VariantUser || a.cfg.Variant == VariantItemUser

	a.itemFeat = 0
	a.userFeat = 0
	if useItem {
		a.itemFeat = featureWidth(feats.Item)
	}
	if useUser {
		a.userFeat = featureWidth(feats.User)
	}
	a.dim = a.cfg.Factors + a.itemFeat + a.userFeat

	a.buildIndices(interactions)
	numUsers := len(a.indexToUser)
	numItems := len(a.indexToItem)
	if numUsers == 0 || numItems == 0 {
		return ErrInsufficientData
	}

	userItems, itemUsers := a.buildConfidence(interactions)

	a.X = a.initMatrix(numUsers)
	a.Y = a.initMatrix(numItems)
	a.loadFixedBlocks(feats)

	userFree := a.userFreeDims(a.cfg.FitFeaturesTogether)
	itemFree := a.itemFreeDims(a.cfg.FitFeaturesTogether)

	for iter := 0; iter < a.cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.updateSide(a.X, a.Y, userItems, userFree)
		if err := ctx.Err(); err != nil {
			return err
		}
		a.updateSide(a.Y, a.X, itemUsers, itemFree)
	}

	// Deferred feature fit: latent factors frozen, feature-weight blocks
	// solved once against them.
	if !a.cfg.FitFeaturesTogether {
		if userBlock := a.userFeatureBlock(); len(userBlock) > 0 {
			a.updateSide(a.X, a.Y, userItems, userBlock)
		}
		if itemBlock := a.itemWeightBlock(); len(itemBlock) > 0 {
			a.updateSide(a.Y, a.X, itemUsers, itemBlock)
		}
	}

	if !a.finite() {
		return ErrNotConverged
	}
	return nil
}

// userFreeDims lists the solvable dimensions of a user vector. The
// user-feature block is always fixed on the user side.
func (a *ALS) userFreeDims(withFeatures bool) []int {
	n := a.cfg.Factors
	if withFeatures {
		n += a.itemFeat
	}
	dims := make([]int, n)
	for i := range dims {
		dims[i] = i
	}
	return dims
}

// itemFreeDims lists the solvable dimensions of an item vector: latent
// block plus, when fitting together, the user-feature weight block.
func (a *ALS) itemFreeDims(withFeatures bool) []int {
	dims := make([]int, 0, a.cfg.Factors+a.userFeat)
	for f := 0; f < a.cfg.Factors; f++ {
		dims = append(dims, f)
	}
	if withFeatures {
		for f := 0; f < a.userFeat; f++ {
			dims = append(dims, a.cfg.Factors+a.itemFeat+f)
		}
	}
	return dims
}

// userFeatureBlock lists the user-side weight dims over item features.
func (a *ALS) userFeatureBlock() []int {
	dims := make([]int, 0, a.itemFeat)
	for f := 0; f < a.itemFeat; f++ {
		dims = append(dims, a.cfg.Factors+f)
	}
	return dims
}

// itemWeightBlock lists the item-side weight dims over user features.
func (a *ALS) itemWeightBlock() []int {
	dims := make([]int, 0, a.userFeat)
	for f := 0; f < a.userFeat; f++ {
		dims = append(dims, a.cfg.Factors+a.itemFeat+f)
	}
	return dims
}

func (a *ALS) buildIndices(interactions []Interaction) {
	a.userIndex = make(map[int64]int)
	a.itemIndex = make(map[int64]int)
	a.indexToUser = nil
	a.indexToItem = nil

	for _, inter := range interactions {
		if inter.Confidence < a.cfg.MinConfidence {
			continue
		}
		if _, ok := a.userIndex[inter.UserID]; !ok {
			a.userIndex[inter.UserID] = len(a.indexToUser)
			a.indexToUser = append(a.indexToUser, inter.UserID)
		}
		if _, ok := a.itemIndex[inter.ItemID]; !ok {
			a.itemIndex[inter.ItemID] = len(a.indexToItem)
			a.indexToItem = append(a.indexToItem, inter.ItemID)
		}
	}
}

// buildConfidence materializes c_ui = 1 + alpha * r per side, keeping
// the max confidence for duplicates.
func (a *ALS) buildConfidence(interactions []Interaction) (userItems, itemUsers map[int]map[int]float64) {
	userItems = make(map[int]map[int]float64)
	itemUsers = make(map[int]map[int]float64)
	for _, inter := range interactions {
		if inter.Confidence < a.cfg.MinConfidence {
			continue
		}
		ui := a.userIndex[inter.UserID]
		ii := a.itemIndex[inter.ItemID]
		conf := 1.0 + a.cfg.Alpha*inter.Confidence

		if userItems[ui] == nil {
			userItems[ui] = make(map[int]float64)
		}
		if conf > userItems[ui][ii] {
			userItems[ui][ii] = conf
		}
		if itemUsers[ii] == nil {
			itemUsers[ii] = make(map[int]float64)
		}
		if conf > itemUsers[ii][ui] {
			itemUsers[ii][ui] = conf
		}
	}
	return userItems, itemUsers
}

// initMatrix allocates rows with small deterministic initialization.
func (a *ALS) initMatrix(rows int) [][]float64 {
	m := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		m[r] = make([]float64, a.dim)
		for f := 0; f < a.cfg.Factors; f++ {
			m[r][f] = 0.1 * (float64((r*a.dim+f)%1000)/1000.0 - 0.5)
		}
	}
	return m
}

// loadFixedBlocks copies item embeddings and user features into their
// fixed vector blocks. Entities without a feature row keep zeros.
func (a *ALS) loadFixedBlocks(feats Features) {
	if a.itemFeat > 0 {
		off := a.cfg.Factors
		for id, ii := range a.itemIndex {
			if vec, ok := feats.Item[id]; ok {
				copy(a.Y[ii][off:off+a.itemFeat], vec)
			}
		}
	}
	if a.userFeat > 0 {
		off := a.cfg.Factors + a.itemFeat
		for id, ui := range a.userIndex {
			if vec, ok := feats.User[id]; ok {
				copy(a.X[ui][off:off+a.userFeat], vec)
			}
		}
	}
}

// updateSide solves the free dimensions of every row on one side, the
// other side held fixed. Standard confidence-weighted ridge solve:
//
//	A = V'V + sum (c-1) v v' + lambda I   (free rows/cols)
//	b = sum c v                           (free rows)
//
// with fixed-dimension contributions moved to the right-hand side.
func (a *ALS) updateSide(rows, other [][]float64, links map[int]map[int]float64, free []int) {
	gram := gramMatrix(other, a.dim)

	var wg sync.WaitGroup
	n := len(rows)
	chunk := (n + a.cfg.Workers - 1) / a.cfg.Workers
	for w := 0; w < a.cfg.Workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for r := lo; r < hi; r++ {
				a.solveRow(rows[r], other, links[r], gram, free)
			}
		}(start, end)
	}
	wg.Wait()
}

// solveRow solves the free dims of one vector in place.
func (a *ALS) solveRow(vec []float64, other [][]float64, links map[int]float64, gram [][]float64, free []int) {
	nf := len(free)
	lambda := a.cfg.Regularization

	// Full-dimension normal equations, then restrict to free dims.
	A := make([][]float64, a.dim)
	for i := range A {
		A[i] = make([]float64, a.dim)
		copy(A[i], gram[i])
	}
	b := make([]float64, a.dim)

	for o, conf := range links {
		v := other[o]
		cm1 := conf - 1.0
		for f1 := 0; f1 < a.dim; f1++ {
			vf1 := v[f1]
			if vf1 != 0 {
				row := A[f1]
				for f2 := f1; f2 < a.dim; f2++ {
					d := cm1 * vf1 * v[f2]
					row[f2] += d
					if f1 != f2 {
						A[f2][f1] += d
					}
				}
			}
			b[f1] += conf * vf1
		}
	}

	// Move fixed-dim contributions to the RHS.
	freeSet := make(map[int]struct{}, nf)
	for _, f := range free {
		freeSet[f] = struct{}{}
	}

	Af := make([][]float64, nf)
	bf := make([]float64, nf)
	for i, fi := range free {
		Af[i] = make([]float64, nf)
		bf[i] = b[fi]
		for j, fj := range free {
			Af[i][j] = A[fi][fj]
		}
		Af[i][i] += lambda
		for d := 0; d < a.dim; d++ {
			if _, ok := freeSet[d]; !ok {
				bf[i] -= A[fi][d] * vec[d]
			}
		}
	}

	x := solveCholesky(Af, bf)
	for i, fi := range free {
		vec[fi] = x[i]
	}
}

// gramMatrix computes V'V over full dimensions.
func gramMatrix(vectors [][]float64, dim int) [][]float64 {
	g := make([][]float64, dim)
	for f := range g {
		g[f] = make([]float64, dim)
	}
	for _, v := range vectors {
		for f1 := 0; f1 < dim; f1++ {
			vf1 := v[f1]
			if vf1 == 0 {
				continue
			}
			row := g[f1]
			for f2 := f1; f2 < dim; f2++ {
				row[f2] += vf1 * v[f2]
			}
		}
	}
	for f1 := 0; f1 < dim; f1++ {
		for f2 := f1 + 1; f2 < dim; f2++ {
			g[f2][f1] = g[f1][f2]
		}
	}
	return g
}

// solveCholesky solves A*x = b for symmetric positive-definite A.
func solveCholesky(A [][]float64, b []float64) []float64 {
	n := len(b)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					sum = 1e-10
				}
				L[i][j] = math.Sqrt(sum)
			} else if L[j][j] != 0 {
				L[i][j] = sum / L[j][j]
			}
		}
	}

	z := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= L[i][j] * z[j]
		}
		if L[i][i] != 0 {
			z[i] = sum / L[i][i]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for j := i + 1; j < n; j++ {
			sum -= L[j][i] * x[j]
		}
		if L[i][i] != 0 {
			x[i] = sum / L[i][i]
		}
	}
	return x
}

// finite reports whether every factor value is a finite number.
func (a *ALS) finite() bool {
	for _, m := range [][][]float64{a.X, a.Y} {
		for _, row := range m {
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
	}
	return true
}

// Score returns x_u . y_i for each candidate item the model knows.
// Unknown users and items are silently absent from the result.
func (a *ALS) Score(userID int64, candidates []int64) map[int64]float64 {
	ui, ok := a.userIndex[userID]
	if !ok {
		return nil
	}
	x := a.X[ui]

	scores := make(map[int64]float64, len(candidates))
	for _, itemID := range candidates {
		ii, ok := a.itemIndex[itemID]
		if !ok {
			continue
		}
		y := a.Y[ii]
		var s float64
		for f := range x {
			s += x[f] * y[f]
		}
		scores[itemID] = s
	}
	return scores
}

// Items returns every item id the model was trained on.
func (a *ALS) Items() []int64 {
	items := make([]int64, len(a.indexToItem))
	copy(items, a.indexToItem)
	return items
}

// Users returns every user id the model was trained on.
func (a *ALS) Users() []int64 {
	users := make([]int64, len(a.indexToUser))
	copy(users, a.indexToUser)
	return users
}

func featureWidth(feats map[int64][]float64) int {
	for _, v := range feats {
		return len(v)
	}
	return 0
}
