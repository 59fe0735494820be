package chat

import (
	"context"
	"iter"
	"sync"

	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

// step is one scripted transport action. A non-nil gate is waited on first.
type step struct {
	text     string
	usage    *models.Usage
	err      error
	gate     chan struct{}
	honorCtx bool
}

type fakeService struct {
	mu      sync.Mutex
	opened  []modes.Config
	openErr []error
	scripts [][]step
	sent    []string
}

func (f *fakeService) Open(_ context.Context, cfg modes.Config) (models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.openErr) > 0 {
		err := f.openErr[0]
		f.openErr = f.openErr[1:]
		if err != nil {
			return nil, err
		}
	}
	f.opened = append(f.opened, cfg)
	return &fakeChat{svc: f}, nil
}

func (f *fakeService) next(text string) []step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	if len(f.scripts) == 0 {
		return nil
	}
	s := f.scripts[0]
	if len(f.scripts) > 1 {
		f.scripts = f.scripts[1:]
	}
	return s
}

func (f *fakeService) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeService) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeChat struct {
	svc *fakeService
}

func (c *fakeChat) Stream(ctx context.Context, text string) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		for _, st := range c.svc.next(text) {
			if st.gate != nil {
				if st.honorCtx {
					select {
					case <-st.gate:
					case <-ctx.Done():
						yield(models.Chunk{}, ctx.Err())
						return
					}
				} else {
					<-st.gate
				}
			}
			if st.err != nil {
				yield(models.Chunk{}, st.err)
				return
			}
			if !yield(models.Chunk{Text: st.text, Usage: st.usage}, nil) {
				return
			}
		}
	}
}

func texts(parts ...string) []step {
	out := make([]step, len(parts))
	for i, p := range parts {
		out[i] = step{text: p}
	}
	return out
}
