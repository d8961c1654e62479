package service

import (
	"context"
	"strings"
	"sync"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel streams fixed chunks through a schema.Pipe.
type fakeChatModel struct {
	chunks   []string
	startErr error
	// failAt sends failErr after that many chunks when failErr is set.
	failAt  int
	failErr error
	// hold keeps the stream open after the last chunk until ctx ends.
	hold bool

	mu    sync.Mutex
	calls int
	input []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.calls++
	f.input = input
	f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}

	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer sw.Close()
		for i, c := range f.chunks {
			if f.failErr != nil && i == f.failAt {
				sw.Send(nil, f.failErr)
				return
			}
			select {
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			default:
			}
			if closed := sw.Send(schema.AssistantMessage(c, nil), nil); closed {
				return
			}
		}
		if f.failErr != nil && f.failAt >= len(f.chunks) {
			sw.Send(nil, f.failErr)
			return
		}
		if f.hold {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		}
	}()
	return sr, nil
}

func (f *fakeChatModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChatModel) Input() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}
