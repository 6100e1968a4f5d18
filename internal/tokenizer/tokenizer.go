// Package tokenizer counts and windows text with the cl100k_base encoding.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const Encoding = "cl100k_base"

var loaderOnce sync.Once

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the BPE ranks bundled with the binary, so no network access is needed.
func New() (*Tokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func (t *Tokenizer) Count(text string) int {
	return len(t.Encode(text))
}
