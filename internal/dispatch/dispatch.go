// Package dispatch turns one user utterance into one remote assistant call
// and reconciles the outcome into the originating thread's log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/logging"
	"github.com/zulandar/labdesk/internal/models"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrThreadBusy is returned when the thread already has a request in flight.
	ErrThreadBusy = errors.New("dispatch: thread is awaiting a response")
	// ErrNoProductSelected is the failure recorded when product-specific chat
	// is attempted without a selected product.
	ErrNoProductSelected = errors.New("please select a product first")
)

// SessionContext names the thread a submission belongs to. The reply is
// always appended to this thread, whatever is active when it arrives.
type SessionContext struct {
	ThreadID string
}

// Reply is the pair of log entries produced by one submission. Response is
// an assistant message on success and an error message on failure.
type Reply struct {
	User     models.Message
	Response models.Message
}

// Outcome is delivered on the channel returned by Dispatch.
type Outcome struct {
	Reply Reply
	Err   error
}

// Coordinator routes submissions by thread mode.
type Coordinator struct {
	registry      *registry.Registry
	machine       *session.Machine
	client        assistant.Client
	singleProduct bool
	log           *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// CoordinatorOpts holds parameters for creating a Coordinator.
type CoordinatorOpts struct {
	Registry *registry.Registry
	Machine  *session.Machine
	Client   assistant.Client
	// SingleProduct caps recommendation results to one product even if the
	// backend returns more.
	SingleProduct bool
	Logger        *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if opts.Machine == nil {
		return nil, fmt.Errorf("dispatch: machine is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("dispatch: client is required")
	}
	return &Coordinator{
		registry:      opts.Registry,
		machine:       opts.Machine,
		client:        opts.Client,
		singleProduct: opts.SingleProduct,
		log:           logging.OrNop(opts.Logger),
		inflight:      make(map[string]struct{}),
	}, nil
}

// Pending reports whether threadID is awaiting a response.
func (c *Coordinator) Pending(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[threadID]
	return ok
}

// Submit appends the utterance to the thread, calls the backend operation
// for the thread's mode and appends the result. It blocks until the call
// finishes. Blank utterances are ignored and yield a zero Reply with a nil
// error. Remote failures are not returned as errors: they are recorded as an
// error message and returned in Reply.Response.
func (c *Coordinator) Submit(ctx context.Context, sc SessionContext, utterance string) (Reply, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Reply{}, nil
	}
	if !c.acquire(sc.ThreadID) {
		return Reply{}, ErrThreadBusy
	}
	defer c.release(sc.ThreadID)

	st, ok := c.machine.Snapshot(sc.ThreadID)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %s", session.ErrUnknownThread, sc.ThreadID)
	}

	if !st.HasUserMessage() {
		c.registry.SetAutoName(sc.ThreadID, registry.NameFromUtterance(text))
	}

	userMsg, err := c.machine.Append(sc.ThreadID, models.UserMessage(text))
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{User: userMsg}

	// Mode and selection are read once, before the call. Changes made while
	// the request is in flight apply to the next submission.
	response, callErr := c.call(ctx, text, st.Mode, st.SelectedProduct)
	if callErr != nil {
		c.log.Warn("dispatch failed",
			zap.String("thread", sc.ThreadID),
			zap.String("mode", string(st.Mode)),
			zap.Error(callErr))
		response = models.ErrorMessage(failureReason(callErr))
	}

	stored, err := c.machine.Append(sc.ThreadID, response)
	if err != nil {
		// The thread was deleted while the request was in flight.
		c.log.Info("dropping reply for removed thread", zap.String("thread", sc.ThreadID))
		return reply, err
	}
	reply.Response = stored
	return reply, nil
}

// SubmitExample submits text on the currently active thread; used for
// example prompt chips.
func (c *Coordinator) SubmitExample(ctx context.Context, text string) (Reply, error) {
	return c.Submit(ctx, SessionContext{ThreadID: c.registry.Active()}, text)
}

// Dispatch runs Submit in the background. The channel receives exactly one
// Outcome and is then closed.
func (c *Coordinator) Dispatch(ctx context.Context, sc SessionContext, utterance string) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		reply, err := c.Submit(ctx, sc, utterance)
		out <- Outcome{Reply: reply, Err: err}
	}()
	return out
}

// call performs the single remote operation for mode. A panic in the client
// is recovered into an error so the in-flight slot is always released and
// the failure is still recorded.
func (c *Coordinator) call(ctx context.Context, text string, mode models.Mode, product *models.Product) (msg models.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()

	switch mode {
	case models.ModeGeneral:
		resp, err := c.client.Chat(ctx, assistant.ChatRequest{Message: text, RoleType: assistant.RoleGeneral})
		if err != nil {
			return models.Message{}, err
		}
		return models.AssistantMessage(resp.Response, nil), nil

	case models.ModeProductSearch:
		resp, err := c.client.Recommend(ctx, assistant.RecommendRequest{Query: text, SingleProduct: true})
		if err != nil {
			return models.Message{}, err
		}
		products := resp.RecommendedProducts
		if c.singleProduct && len(products) > 1 {
			c.log.Warn("recommendation returned more than one product; keeping the first",
				zap.Int("products", len(products)))
			products = products[:1]
		}
		return models.AssistantMessage(resp.LLMResponse, products), nil

	case models.ModeProductSpecific:
		if product == nil {
			return models.Message{}, ErrNoProductSelected
		}
		resp, err := c.client.Chat(ctx, assistant.ChatRequest{
			Message:  text,
			RoleType: assistant.RoleProductSpecific,
			Context:  &assistant.ChatContext{Product: product},
		})
		if err != nil {
			return models.Message{}, err
		}
		return models.AssistantMessage(resp.Response, nil), nil
	}
	return models.Message{}, fmt.Errorf("invalid chat mode %q", mode)
}

func (c *Coordinator) acquire(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[threadID]; busy {
		return false
	}
	c.inflight[threadID] = struct{}{}
	return true
}

func (c *Coordinator) release(threadID string) {
	c.mu.Lock()
	delete(c.inflight, threadID)
	c.mu.Unlock()
}

// failureReason is the human-readable part of an inline error message.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "the assistant did not answer in time"
	}
	var rerr *assistant.RemoteError
	if errors.As(err, &rerr) {
		return rerr.Error()
	}
	return err.Error()
}
