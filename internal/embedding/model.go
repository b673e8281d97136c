// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package embedding trains fixed-dimension document vectors over paper
// abstracts.
//
// The model follows the PV-DBOW construction: a document vector is
// optimized to predict the words of its document against negative
// samples. Vocabulary, initialization, sampling, and inference are all
// driven by a configured seed, so one corpus and one config always
// produce the same vectors.
package embedding

import (
	"math"
	"math/rand"
	"sort"
	"strings"
)

// negativeSamples per positive pair.
const negativeSamples = 5

// learningRate for both training and inference SGD.
const learningRate = 0.025

// Model holds the trained output matrix and vocabulary. Inference for
// unseen documents optimizes a fresh document vector against the frozen
// matrix.
type Model struct {
	Dim   int
	Seed  int64
	Vocab map[string]int

	// Out is the per-word output matrix, Vocab size rows by Dim columns.
	Out [][]float64

	// sampling holds the unigram^0.75 negative-sampling table.
	sampling []int
}

// Tokenize lowercases, strips punctuation, and splits on whitespace.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// buildVocab counts tokens across documents and prunes rare terms. The
// word index is assigned in sorted order for determinism.
func buildVocab(docs [][]string, minCount int) (map[string]int, []int) {
	if minCount < 1 {
		minCount = 1
	}

	counts := make(map[string]int)
	for _, doc := range docs {
		for _, tok := range doc {
			counts[tok]++
		}
	}

	words := make([]string, 0, len(counts))
	for w, c := range counts {
		if c >= minCount {
			words = append(words, w)
		}
	}
	sort.Strings(words)

	vocab := make(map[string]int, len(words))
	freq := make([]int, len(words))
	for i, w := range words {
		vocab[w] = i
		freq[i] = counts[w]
	}
	return vocab, freq
}

// buildSamplingTable materializes the unigram^0.75 distribution.
func buildSamplingTable(freq []int) []int {
	const tableSize = 1 << 16

	var total float64
	weights := make([]float64, len(freq))
	for i, c := range freq {
		weights[i] = math.Pow(float64(c), 0.75)
		total += weights[i]
	}
	if total == 0 {
		return nil
	}

	table := make([]int, 0, tableSize)
	var cum float64
	idx := 0
	for i := 0; i < tableSize; i++ {
		p := (float64(i) + 0.5) / tableSize
		for idx < len(weights)-1 && cum+weights[idx]/total < p {
			cum += weights[idx] / total
			idx++
		}
		table = append(table, idx)
	}
	return table
}

// Train fits the output matrix from tokenized documents.
func Train(docs [][]string, dim, epochs, minCount int, seed int64) *Model {
	if epochs <= 0 {
		epochs = 10
	}

	vocab, freq := buildVocab(docs, minCount)
	m := &Model{
		Dim:      dim,
		Seed:     seed,
		Vocab:    vocab,
		Out:      make([][]float64, len(vocab)),
		sampling: buildSamplingTable(freq),
	}

	rng := rand.New(rand.NewSource(seed))
	for i := range m.Out {
		m.Out[i] = make([]float64, dim)
		for j := range m.Out[i] {
			m.Out[i][j] = (rng.Float64() - 0.5) / float64(dim)
		}
	}

	// Document vectors are training scaffolding; only the output matrix
	// is kept, and documents are re-inferred against it afterwards.
	docVecs := make([][]float64, len(docs))
	for i := range docVecs {
		docVecs[i] = randomVector(rng, dim)
	}

	for epoch := 0; epoch < epochs; epoch++ {
		alpha := learningRate * (1 - float64(epoch)/float64(epochs))
		if alpha < learningRate*0.01 {
			alpha = learningRate * 0.01
		}
		for d, doc := range docs {
			m.trainDoc(docVecs[d], doc, alpha, rng, true)
		}
	}
	return m
}

// trainDoc runs one pass of PV-DBOW updates for a single document.
// updateOut controls whether word rows move (training) or stay frozen
// (inference).
func (m *Model) trainDoc(docVec []float64, doc []string, alpha float64, rng *rand.Rand, updateOut bool) {
	if len(m.sampling) == 0 {
		return
	}
	grad := make([]float64, m.Dim)

	for _, tok := range doc {
		target, ok := m.Vocab[tok]
		if !ok {
			continue
		}

		for i := range grad {
			grad[i] = 0
		}

		for s := 0; s <= negativeSamples; s++ {
			var (
				word  int
				label float64
			)
			if s == 0 {
				word, label = target, 1
			} else {
				word, label = m.sampling[rng.Intn(len(m.sampling))], 0
				if word == target {
					continue
				}
			}

			row := m.Out[word]
			var dot float64
			for i := range docVec {
				dot += docVec[i] * row[i]
			}
			g := alpha * (label - sigmoid(dot))
			for i := range docVec {
				grad[i] += g * row[i]
				if updateOut {
					row[i] += g * docVec[i]
				}
			}
		}

		for i := range docVec {
			docVec[i] += grad[i]
		}
	}
}

// Infer produces the document vector for one abstract against the frozen
// output matrix. The same text always yields the same vector.
func (m *Model) Infer(text string, epochs int) []float64 {
	if epochs <= 0 {
		epochs = 10
	}
	doc := Tokenize(text)

	// Seed from the model seed and the document content so inference is
	// reproducible per document.
	h := int64(0)
	for _, tok := range doc {
		for _, r := range tok {
			h = h*31 + int64(r)
		}
	}
	rng := rand.New(rand.NewSource(m.Seed ^ h))

	vec := randomVector(rng, m.Dim)
	for epoch := 0; epoch < epochs; epoch++ {
		alpha := learningRate * (1 - float64(epoch)/float64(epochs))
		if alpha < learningRate*0.01 {
			alpha = learningRate * 0.01
		}
		m.trainDoc(vec, doc, alpha, rng, false)
	}
	return vec
}

func randomVector(rng *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = (rng.Float64() - 0.5) / float64(dim)
	}
	return v
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
