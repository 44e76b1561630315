package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/examprep/examprep-cli/internal/model"
)

// ErrNoContent is returned when a stream ends naturally without producing
// any text.
var ErrNoContent = eris.New("stream: ended without content")

// Handler receives dispatched events. Stage is set only when the event moved
// the controller forward; backward or repeated stages arrive as StageNone.
type Handler func(Event)

// Controller consumes one event stream and tracks the observed stage, the
// latest status and the accumulated text.
type Controller struct {
	handler   Handler
	chunkSize int

	mu     sync.Mutex
	stage  model.PipelineStage
	status string
	text   strings.Builder
}

// NewController returns a controller dispatching to h, which may be nil.
func NewController(h Handler) *Controller {
	return &Controller{handler: h, chunkSize: 4096}
}

// Stage returns the highest stage observed.
func (c *Controller) Stage() model.PipelineStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Status returns the latest status string.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Text returns the accumulated text deltas.
func (c *Controller) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// Run reads rc until [DONE], EOF, an error frame or cancellation. It returns
// nil on [DONE] or on EOF with content, ErrNoContent on EOF without content,
// the *FrameError of an error frame, or ctx.Err() when cancelled. rc is
// always closed; on cancellation it is closed immediately to release the
// reader and no further events are dispatched.
func (c *Controller) Run(ctx context.Context, rc io.ReadCloser) error {
	stop := make(chan struct{})
	defer close(stop)
	var closeOnce sync.Once
	closeReader := func() { closeOnce.Do(func() { rc.Close() }) } //nolint:errcheck
	defer closeReader()

	go func() {
		select {
		case <-ctx.Done():
			closeReader()
		case <-stop:
		}
	}()

	dec := NewDecoder()
	buf := make([]byte, c.chunkSize)
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			if done, err := c.dispatchAll(ctx, dec.Feed(buf[:n])); done {
				return err
			}
		}
		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(readErr, io.EOF) {
			return eris.Wrap(readErr, "stream: read")
		}
		if done, err := c.dispatchAll(ctx, dec.Flush()); done {
			return err
		}
		if c.Text() == "" {
			return ErrNoContent
		}
		return nil
	}
}

func (c *Controller) dispatchAll(ctx context.Context, events []Event) (bool, error) {
	for _, ev := range events {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if ev.Done {
			return true, nil
		}
		if ev.Err != nil {
			c.emit(ev)
			return true, ev.Err
		}
		c.apply(&ev)
		c.emit(ev)
	}
	return false, nil
}

func (c *Controller) apply(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Malformed {
		zap.L().Warn("stream: malformed frame", zap.Int("bytes", len(ev.Raw)))
		return
	}
	if ev.Stage > c.stage {
		c.stage = ev.Stage
	} else {
		ev.Stage = model.StageNone
	}
	if ev.Status != "" {
		c.status = ev.Status
	}
	c.text.WriteString(ev.Delta)
}

func (c *Controller) emit(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}
