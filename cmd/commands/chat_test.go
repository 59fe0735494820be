package commands

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/dohr-michael/neorix/internal/chat"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

type scriptedService struct {
	fail bool
}

func (s scriptedService) Open(_ context.Context, cfg modes.Config) (models.Chat, error) {
	return scriptedChat{mode: cfg.Mode, fail: s.fail}, nil
}

type scriptedChat struct {
	mode modes.Mode
	fail bool
}

func (c scriptedChat) Stream(_ context.Context, text string) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		if !yield(models.Chunk{Text: "[" + string(c.mode) + "] "}, nil) {
			return
		}
		if c.fail {
			yield(models.Chunk{}, errors.New("connection reset"))
			return
		}
		yield(models.Chunk{Text: text}, nil)
	}
}

// fragmentService streams n single-character fragments and calls each, when set,
// before every fragment after the first.
type fragmentService struct {
	n    int
	each func(sent int)
}

func (s fragmentService) Open(context.Context, modes.Config) (models.Chat, error) {
	return s, nil
}

func (s fragmentService) Stream(context.Context, string) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		for i := 0; i < s.n; i++ {
			if i > 0 && s.each != nil {
				s.each(i)
			}
			if !yield(models.Chunk{Text: "x"}, nil) {
				return
			}
		}
	}
}

func newTestREPL(t *testing.T, svc models.Service) (*repl, *bytes.Buffer) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	conv := chat.NewConversation(svc, chat.WithBus(bus))
	t.Cleanup(conv.Close)

	var out bytes.Buffer
	return &repl{conv: conv, out: &out}, &out
}

func TestREPL_Session(t *testing.T) {
	r, out := newTestREPL(t, scriptedService{})

	input := "salom\n\n/mode coding\nfunc\n/modes\n/quit\nnever sent\n"
	if err := r.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		modes.Greeting(),
		"[general] salom\n",
		modes.ModeChangedNotice(modes.Coding),
		"[coding] func\n",
		"* coding",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never sent") {
		t.Error("input after /quit was processed")
	}
	if r.conv.Mode() != modes.Coding {
		t.Errorf("expected coding mode, got %s", r.conv.Mode())
	}
}

func TestREPL_UnknownMode(t *testing.T) {
	r, out := newTestREPL(t, scriptedService{})

	if quit := r.handle(context.Background(), "/mode poetry"); quit {
		t.Fatal("unexpected quit")
	}
	if !strings.Contains(out.String(), "unknown mode") {
		t.Fatalf("expected unknown mode error, got %q", out.String())
	}
	if r.conv.Mode() != modes.General {
		t.Fatalf("mode changed to %s", r.conv.Mode())
	}
}

func TestREPL_ServiceFailure(t *testing.T) {
	r, out := newTestREPL(t, scriptedService{fail: true})

	r.handle(context.Background(), "hello")

	got := out.String()
	if !strings.Contains(got, "[general] ") {
		t.Errorf("partial reply not printed: %q", got)
	}
	if !strings.Contains(got, modes.ErrorNotice()) {
		t.Errorf("error notice not printed: %q", got)
	}
	msgs := r.conv.Messages()
	if last := msgs[len(msgs)-1]; !last.Errored || last.Text != "[general] " {
		t.Errorf("unexpected last message: %+v", last)
	}
}

func TestREPL_LongReplyIsComplete(t *testing.T) {
	r, out := newTestREPL(t, fragmentService{n: 3000})

	r.handle(context.Background(), "long")

	if got := strings.Count(out.String(), "x"); got != 3000 {
		t.Fatalf("printed %d of 3000 fragments", got)
	}
}

func TestREPL_PrintsFragmentsAsTheyArrive(t *testing.T) {
	var out *bytes.Buffer
	var lagged []int
	svc := fragmentService{n: 5, each: func(sent int) {
		if strings.Count(out.String(), "x") != sent {
			lagged = append(lagged, sent)
		}
	}}
	r, buf := newTestREPL(t, svc)
	out = buf

	r.handle(context.Background(), "go")

	if len(lagged) > 0 {
		t.Fatalf("fragments not printed before the next arrived: %v", lagged)
	}
	if !strings.HasSuffix(out.String(), "xxxxx\n") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestREPL_CancelledSendIsNotAServiceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := fragmentService{n: 3, each: func(int) { cancel() }}
	r, out := newTestREPL(t, cancellingService{fragmentService: svc})

	r.handle(ctx, "stop")

	if strings.Contains(out.String(), modes.ErrorNotice()) {
		t.Fatalf("cancellation reported as service failure: %q", out.String())
	}
	msgs := r.conv.Messages()
	if last := msgs[len(msgs)-1]; last.Errored {
		t.Fatalf("cancelled reply marked errored: %+v", last)
	}
	if r.conv.Err() != "" {
		t.Fatalf("unexpected error text %q", r.conv.Err())
	}
}

// cancellingService fails its stream with the context error once ctx is done, the way
// network transports do.
type cancellingService struct{ fragmentService }

func (s cancellingService) Open(context.Context, modes.Config) (models.Chat, error) {
	return s, nil
}

func (s cancellingService) Stream(ctx context.Context, text string) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		for chunk, err := range s.fragmentService.Stream(ctx, text) {
			if ctx.Err() != nil {
				yield(models.Chunk{}, ctx.Err())
				return
			}
			if !yield(chunk, err) {
				return
			}
		}
	}
}
