// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/paperscope/paperscope/internal/config"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercase and punctuation", "Attention, Is All-You Need!", []string{"attention", "is", "all", "you", "need"}},
		{"digits kept", "GPT-4 beats GPT3.5", []string{"gpt", "4", "beats", "gpt3", "5"}},
		{"empty", "  \n\t ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func testCorpus(n int) map[int64]string {
	topics := []string{
		"neural networks learn representations from gradient descent",
		"graph algorithms traverse vertices and edges efficiently",
		"language models predict tokens from context windows",
		"reinforcement agents maximize reward through exploration",
	}
	corpus := make(map[int64]string, n)
	for i := 0; i < n; i++ {
		corpus[int64(i+1)] = fmt.Sprintf("%s variant %d", topics[i%len(topics)], i)
	}
	return corpus
}

type memStore struct {
	abstracts map[int64]string
	vectors   map[int64][]float64
}

func (s *memStore) ReadAbstracts(context.Context) (map[int64]string, error) {
	return s.abstracts, nil
}

func (s *memStore) WriteEmbedding(_ context.Context, id int64, vec []float64) error {
	if s.vectors == nil {
		s.vectors = make(map[int64][]float64)
	}
	s.vectors[id] = vec
	return nil
}

func testEmbeddingConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Dim:           16,
		SampleSize:    20,
		Epochs:        5,
		MinTokenCount: 1,
		Seed:          42,
	}
}

func TestRunWritesUniformVectors(t *testing.T) {
	store := &memStore{abstracts: testCorpus(30)}
	r := NewRunner(store, testEmbeddingConfig())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(store.vectors) != 30 {
		t.Fatalf("wrote %d vectors, want 30", len(store.vectors))
	}
	for id, vec := range store.vectors {
		if len(vec) != 16 {
			t.Fatalf("paper %d vector dim = %d, want 16", id, len(vec))
		}
		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			t.Fatalf("paper %d vector is not finite", id)
		}
	}
}

func TestRunFailsFastOnSmallCatalog(t *testing.T) {
	store := &memStore{abstracts: testCorpus(5)}
	r := NewRunner(store, testEmbeddingConfig())

	err := r.Run(context.Background())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Run() error = %v, want ErrInsufficientData", err)
	}
	if len(store.vectors) != 0 {
		t.Errorf("wrote %d vectors before failing, want 0", len(store.vectors))
	}
}

func TestRunIsDeterministic(t *testing.T) {
	corpus := testCorpus(25)

	run := func() map[int64][]float64 {
		store := &memStore{abstracts: corpus}
		if err := NewRunner(store, testEmbeddingConfig()).Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return store.vectors
	}

	first := run()
	second := run()
	for id, vec := range first {
		if !reflect.DeepEqual(vec, second[id]) {
			t.Fatalf("paper %d vectors differ across identical runs", id)
		}
	}
}

func TestInferSeparatesTopics(t *testing.T) {
	var docs [][]string
	for _, text := range testCorpus(40) {
		docs = append(docs, Tokenize(text))
	}
	m := Train(docs, 16, 20, 1, 42)

	cos := func(a, b []float64) float64 {
		var dot, na, nb float64
		for i := range a {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		return dot / (math.Sqrt(na)*math.Sqrt(nb) + 1e-12)
	}

	sameA := m.Infer("neural networks learn representations from gradient descent", 20)
	sameB := m.Infer("neural networks learn gradient representations", 20)
	other := m.Infer("graph algorithms traverse vertices and edges", 20)

	if cos(sameA, sameB) <= cos(sameA, other) {
		t.Errorf("similar abstracts cos = %v, dissimilar cos = %v; want similar > dissimilar",
			cos(sameA, sameB), cos(sameA, other))
	}
}
