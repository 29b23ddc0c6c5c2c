package dialog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

const scenarioMetadata = `{"name":"Table","parts":[{"uniqueId":"p1","name":"thickness"},{"uniqueId":"p2","name":"material","options":["oak","ash"]}],"language":"English"}`

type fakeRuntime struct {
	mu      sync.Mutex
	scopes  []Scope
	replies []ReplyOptions
	system  []string

	replyErr error
	// block, when set, holds continue requests issued after data updates.
	block    chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *fakeRuntime) SetScope(scope Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
}

func (r *fakeRuntime) GenerateReply(ctx context.Context, opts ReplyOptions) error {
	r.mu.Lock()
	r.replies = append(r.replies, opts)
	block := r.block
	err := r.replyErr
	r.mu.Unlock()

	if opts.Instructions == continueInstruction && block != nil {
		n := r.inFlight.Add(1)
		for {
			seen := r.maxSeen.Load()
			if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		defer r.inFlight.Add(-1)

		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *fakeRuntime) AddSystemMessage(ctx context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.system = append(r.system, content)
	return nil
}

func (r *fakeRuntime) systemMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.system...)
}

func (r *fakeRuntime) replyRequests() []ReplyOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReplyOptions(nil), r.replies...)
}

func (r *fakeRuntime) lastScope() Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.scopes) == 0 {
		return Scope{}
	}
	return r.scopes[len(r.scopes)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ConfigEvent
	topics []string
	err    error
	panics bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event model.ConfigEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.topics = append(p.topics, topic)
	if p.panics {
		panic("publisher exploded")
	}
	return p.err
}

func (p *recordingPublisher) published() []model.ConfigEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ConfigEvent(nil), p.events...)
}

type fakeCloser struct {
	calls atomic.Int32
	err   error
}

func (c *fakeCloser) DeleteRoom(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

type fakeData struct {
	handler func(DataPacket)
	err     error
}

func (d *fakeData) SubscribeData(handler func(DataPacket)) (func(), error) {
	if d.err != nil {
		return nil, d.err
	}
	d.handler = handler
	return func() {}, nil
}

type fakeSnapshots struct {
	mu      sync.Mutex
	saved   []*model.Snapshot
	deleted []string
}

func (s *fakeSnapshots) Save(ctx context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func (s *fakeSnapshots) Delete(ctx context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, room)
	return nil
}

type harness struct {
	ctrl      *Controller
	runtime   *fakeRuntime
	publisher *recordingPublisher
	closer    *fakeCloser
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	product, err := model.ParseMetadata(scenarioMetadata)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		runtime:   &fakeRuntime{},
		publisher: &recordingPublisher{},
		closer:    &fakeCloser{},
		logs:      logs,
	}

	base := []Option{
		WithSession("room-test", "job-test"),
		WithPublisher(h.publisher),
		WithRoomCloser(h.closer),
		WithLogger(logger.Wrap(zap.New(core))),
	}
	h.ctrl = New(h.runtime, product, append(base, opts...)...)
	return h
}

type runResult struct {
	outcome model.Outcome
	err     error
}

// start runs the controller in the background and returns its result channel.
func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan runResult) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	results := make(chan runResult, 1)
	go func() {
		outcome, err := h.ctrl.Run(ctx)
		results <- runResult{outcome: outcome, err: err}
	}()
	return cancel, results
}

func (h *harness) invoke(t *testing.T, name, args string) (string, error) {
	t.Helper()
	call := ToolCall{Name: name}
	if args != "" {
		call.Arguments = []byte(args)
	}
	return h.ctrl.Invoke(context.Background(), call)
}

// configure runs the controller past consent.
func (h *harness) configure(t *testing.T) (context.CancelFunc, <-chan runResult) {
	t.Helper()
	cancel, results := h.start(t)
	if _, err := h.invoke(t, ToolConsentGiven, ""); err != nil {
		t.Fatalf("consentGiven: %v", err)
	}
	waitFor(t, func() bool { return h.ctrl.State() == model.StateConfiguring })
	return cancel, results
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitResult(t *testing.T, results <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
		return runResult{}
	}
}

var errRoomGone = errors.New("requested room does not exist")
