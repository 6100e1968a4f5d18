package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"newsletter-briefing/internal/model"
)

type fakeAI struct {
	mu    sync.Mutex
	calls []GenerateRequest
	fn    func(req GenerateRequest) (string, error)
}

func (f *fakeAI) Generate(_ context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn == nil {
		return "", nil
	}
	return f.fn(req)
}

func (f *fakeAI) Calls() []GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GenerateRequest(nil), f.calls...)
}

// runeTokenizer treats every rune as one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens
}

func (runeTokenizer) Decode(tokens []int) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteRune(rune(t))
	}
	return b.String()
}

func newMessage(id, subject, sender string) *model.RawMessage {
	return model.NewRawMessage(id, subject, sender, "snippet of "+id, "", "body of "+id, fixedTime)
}

func newMessages(n int, sender string) []*model.RawMessage {
	msgs := make([]*model.RawMessage, n)
	for i := range msgs {
		msgs[i] = newMessage(fmt.Sprintf("m%d", i), fmt.Sprintf("Issue %d", i), sender)
	}
	return msgs
}
