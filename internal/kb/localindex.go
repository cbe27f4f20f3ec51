package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

// Document is one entry of the on-disk index file.
type Document struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// LocalIndex is a token-overlap retriever over an embedded document set.
// Serves deployments without a remote search service and doubles as the
// degraded path in dev. Read-only after load, safe for concurrent use.
type LocalIndex struct {
	docs   []Document
	tokens []map[string]bool // per-document token set, same order as docs
	cache  *lru.Cache[string, []triage.Snippet]
}

// LoadLocalIndex reads a JSON array of documents from path.
func LoadLocalIndex(path string) (*LocalIndex, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return NewLocalIndex(docs)
}

// NewLocalIndex builds an index over the given documents.
func NewLocalIndex(docs []Document) (*LocalIndex, error) {
	cache, err := lru.New[string, []triage.Snippet](256)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	idx := &LocalIndex{
		docs:   docs,
		tokens: make([]map[string]bool, len(docs)),
		cache:  cache,
	}
	for i, d := range docs {
		idx.tokens[i] = tokenSet(d.Text)
	}
	return idx, nil
}

// Len returns the number of indexed documents.
func (x *LocalIndex) Len() int { return len(x.docs) }

// Search scores documents by query token overlap and returns the topK as
// ranked snippets. Ties break on document id so results are stable.
func (x *LocalIndex) Search(_ context.Context, query string, topK int) ([]triage.Snippet, error) {
	key := fmt.Sprintf("%d:%s", topK, query)
	if hit, ok := x.cache.Get(key); ok {
		out := make([]triage.Snippet, len(hit))
		copy(out, hit)
		return out, nil
	}

	qtokens := tokenSet(query)
	if len(qtokens) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   int
		score float64
	}
	var matches []scored
	for i, set := range x.tokens {
		overlap := 0
		for tok := range qtokens {
			if set[tok] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, scored{doc: i, score: float64(overlap) / float64(len(qtokens))})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return x.docs[matches[i].doc].ID < x.docs[matches[j].doc].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	snippets := make([]triage.Snippet, len(matches))
	for i, m := range matches {
		d := x.docs[m.doc]
		snippets[i] = triage.Snippet{
			ID:     d.ID,
			Source: d.Source,
			Text:   d.Text,
			Score:  m.score,
			Rank:   i + 1,
		}
	}

	cached := make([]triage.Snippet, len(snippets))
	copy(cached, snippets)
	x.cache.Add(key, cached)
	return snippets, nil
}

var foldReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func tokenSet(text string) map[string]bool {
	folded := foldReplacer.Replace(strings.ToLower(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			// Skip articles and prepositions that match everything.
			continue
		}
		set[f] = true
	}
	return set
}
