package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	a, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different embeddings at %d", i)
		}
	}
	c, err := e.Embed(context.Background(), "something else")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical embeddings")
	}
}

func TestMockEmbedderUnitNorm(t *testing.T) {
	e := NewMockEmbedder(32)
	vec, err := e.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
	}
}

func TestEmbedEmptyTextRejected(t *testing.T) {
	e := NewMockEmbedder(16)
	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := e.Embed(context.Background(), text)
		if err == nil {
			t.Errorf("empty text %q should be rejected", text)
			continue
		}
		if !models.IsValidation(err) {
			t.Errorf("want ValidationError for %q, got %v", text, err)
		}
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := NewMockEmbedder(16)
	texts := []string{"first", "second", "third"}
	batch, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		single, _ := e.Embed(context.Background(), text)
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch[%d] differs from Embed(%q)", i, text)
			}
		}
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})
	if c.Len() != 2 {
		t.Fatalf("cache len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry should be present")
	}
}

func TestCacheLRUOrdering(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a") // refresh a
	c.Set("c", []float32{3})
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry should survive eviction")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestCachedEmbedder(t *testing.T) {
	inner := NewMockEmbedder(16)
	e := WithCache(inner, 10)
	if e.ModelID() != inner.ModelID() || e.Dimensions() != inner.Dimensions() {
		t.Error("cached embedder should delegate identity")
	}
	a, err := e.Embed(context.Background(), "cached text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "cached text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("cache returned a different vector")
		}
	}
}

func TestSimpleTokenizer(t *testing.T) {
	tok := &SimpleTokenizer{}
	inputIDs, attentionMask, _ := tok.Tokenize("hello world", 8)
	if len(inputIDs) != 8 || len(attentionMask) != 8 {
		t.Fatalf("tensor lengths %d/%d, want 8", len(inputIDs), len(attentionMask))
	}
	if inputIDs[0] != 101 {
		t.Errorf("first token = %d, want [CLS]=101", inputIDs[0])
	}
	// two words then [SEP]
	if attentionMask[0]+attentionMask[1]+attentionMask[2]+attentionMask[3] != 4 {
		t.Error("expected attention over CLS, 2 words, SEP")
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  one\ttwo\nthree  ")
	if len(words) != 3 || words[0] != "one" || words[2] != "three" {
		t.Errorf("SplitWords = %v", words)
	}
}

func TestCacheConcurrentGet(t *testing.T) {
	c := NewCache(8)
	keys := make([]string, 8)
	for i := range keys {
		keys[i] = fmt.Sprintf("text-%d", i)
		c.Set(keys[i], []float32{float32(i)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := keys[(g+i)%len(keys)]
				if vec, ok := c.Get(key); !ok || len(vec) != 1 {
					t.Errorf("Get(%q) = %v, %v", key, vec, ok)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Errorf("Len = %d, want 8", c.Len())
	}
}

func TestCachedEmbedderConcurrent(t *testing.T) {
	e := WithCache(NewMockEmbedder(16), 32)
	ctx := context.Background()
	texts := []string{"alpha", "beta", "gamma", "delta"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := e.Embed(ctx, texts[(g+i)%len(texts)]); err != nil {
					t.Errorf("Embed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
