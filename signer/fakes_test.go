package signer

import (
	"context"
	"sync"
)

type fakePresigner struct {
	mu        sync.Mutex
	url       string
	err       error
	filenames []string
}

func (p *fakePresigner) PresignPut(_ context.Context, filename string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filenames = append(p.filenames, filename)
	if p.err != nil {
		return "", p.err
	}
	return p.url + filename, nil
}

func (p *fakePresigner) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.filenames...)
}
