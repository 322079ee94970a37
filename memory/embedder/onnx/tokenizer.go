//go:build onnx

package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// BERT special token IDs for uncased vocabularies.
const (
	unkID = 100
	clsID = 101
	sepID = 102
)

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer driven by the
// vocab in a HuggingFace tokenizer.json.
type wordPieceTokenizer struct {
	vocab map[string]int
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	if path == "" {
		return nil, fmt.Errorf("tokenizer path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%s has an empty vocab", path)
	}
	return &wordPieceTokenizer{vocab: file.Model.Vocab}, nil
}

// encode returns input IDs and the attention mask, both padded to seqLen,
// with [CLS] and [SEP] framing the (truncated) tokens.
func (t *wordPieceTokenizer) encode(text string, seqLen int) (ids []int64, mask []int64) {
	ids = make([]int64, seqLen)
	mask = make([]int64, seqLen)

	tokens := t.tokenize(text)
	if len(tokens) > seqLen-2 {
		tokens = tokens[:seqLen-2]
	}

	ids[0], mask[0] = clsID, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepID, 1
	return ids, mask
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var out []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			out = append(out, int64(id))
			continue
		}
		out = append(out, t.wordPieces(word)...)
	}
	return out
}

// wordPieces splits a word by greedy longest-prefix match; continuation
// pieces carry the "##" prefix. A word with an unmatchable remainder is
// a single [UNK].
func (t *wordPieceTokenizer) wordPieces(word string) []int64 {
	var out []int64
	for start := 0; start < len(word); {
		end := len(word)
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				out = append(out, int64(id))
				break
			}
		}
		if end == start {
			return []int64{unkID}
		}
		start = end
	}
	return out
}
