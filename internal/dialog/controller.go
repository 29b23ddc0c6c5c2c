// Package dialog drives a single voice configuration session: consent, configuration
// and the tools the voice runtime may call in each phase.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/prompts"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/voice-configurator/internal/dialog")

const (
	teardownTimeout = 10 * time.Second

	continueInstruction = "Continue configuring the product using the updated configuration data."

	msgNotAvailable  = "That action is not available right now."
	msgUnknownTool   = "That action is not supported."
	msgConsentGiven  = "Consent recorded. Let's configure the product."
	msgConsentDenied = "Understood. Voice mode will not continue."
	msgConsentRepeat = "The answer about voice mode was already recorded."
	msgClose         = "Thank you, will end the call now."
)

// Option configures a Controller.
type Option func(*Controller)

// WithTemplates sets the instruction templates.
func WithTemplates(t prompts.Templates) Option {
	return func(c *Controller) {
		c.templates = t
	}
}

// WithPublisher sets where configuration events are broadcast.
func WithPublisher(p EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithRoomCloser sets the room teardown handle.
func WithRoomCloser(rc RoomCloser) Option {
	return func(c *Controller) {
		c.closer = rc
	}
}

// WithDataSource sets the inbound data-channel source.
func WithDataSource(ds DataSource) Option {
	return func(c *Controller) {
		c.data = ds
	}
}

// WithSnapshotStore keeps a live copy of the document for observers.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(c *Controller) {
		c.snapshots = s
	}
}

// WithTeardownOnConfirm deletes the room once the user confirms.
func WithTeardownOnConfirm(v bool) Option {
	return func(c *Controller) {
		c.teardownOnConfirm = v
	}
}

// WithStrictPartIDs controls whether updates for unknown part ids are rejected.
func WithStrictPartIDs(v bool) Option {
	return func(c *Controller) {
		c.strictPartIDs = v
	}
}

// WithSession names the room and dispatch job for logs and snapshots.
func WithSession(room, jobID string) Option {
	return func(c *Controller) {
		c.room = room
		c.jobID = jobID
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// Controller owns the configuration document of one session and reacts to tool calls
// and data-channel messages.
type Controller struct {
	room      string
	jobID     string
	product   *model.Product
	templates prompts.Templates
	runtime   Runtime
	publisher EventPublisher
	closer    RoomCloser
	data      DataSource
	snapshots SnapshotStore
	logger    *logger.Logger

	teardownOnConfirm bool
	strictPartIDs     bool

	consent *Consent
	inbox   *inbox

	mu           sync.Mutex
	state        model.State
	outcome      model.Outcome
	finished     bool
	doc          *model.Document
	knownIDs     map[string]struct{}
	instructions string
	version      int64

	running      atomic.Bool
	runCtx       context.Context
	startedAt    time.Time
	done         chan struct{}
	doneOnce     sync.Once
	teardownOnce sync.Once
}

// New creates a controller for product driven through rt.
func New(rt Runtime, product *model.Product, opts ...Option) *Controller {
	if product == nil {
		product = model.DefaultProduct()
	}

	c := &Controller{
		product:       product,
		templates:     prompts.Defaults(),
		runtime:       rt,
		logger:        logger.NewNop(),
		strictPartIDs: true,
		state:         model.StateAwaitingConsent,
		doc:           model.NewDocument(product),
		knownIDs:      product.PartIDs(),
		startedAt:     time.Now().UTC(),
		done:          make(chan struct{}),
		runCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.consent = NewConsent(rt, c.templates, product, c.logger)
	c.inbox = newInbox(c.absorb, c.logger)
	return c
}

// Run executes the session until it reaches an outcome or ctx is done.
func (c *Controller) Run(ctx context.Context) (model.Outcome, error) {
	if !c.running.CompareAndSwap(false, true) {
		return model.OutcomeNone, ErrAlreadyRunning
	}
	c.runCtx = ctx

	unsubscribe := c.subscribe()
	defer unsubscribe()

	c.logger.Info("session started",
		zap.String("product", c.product.Name),
		zap.String("language", c.product.Language),
		zap.Int("parts", len(c.product.Parts)),
	)

	granted, err := c.consent.Run(ctx)
	switch {
	case err != nil:
		c.abandon()
	case !granted:
		c.decline(ctx)
	default:
		c.startConfiguring(ctx)
		select {
		case <-c.done:
		case <-ctx.Done():
			c.abandon()
		}
	}

	c.inbox.Close()
	c.inbox.Wait()

	outcome := c.Outcome()
	c.logger.Info("session ended", zap.String("outcome", string(outcome)))
	return outcome, nil
}

// Invoke dispatches one tool call. The returned string is always safe to hand back to
// the voice runtime; the error only classifies failures.
func (c *Controller) Invoke(ctx context.Context, call ToolCall) (string, error) {
	ctx, span := tracer.Start(ctx, "dialog.invoke", trace.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.String("room", c.room),
	))
	defer span.End()

	result, err := c.dispatch(ctx, call)

	label := resultLabel(err)
	metrics.RecordToolCall(call.Name, label)
	span.SetAttributes(attribute.String("result", label))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
		c.logger.Info("tool call rejected", zap.String("tool", call.Name), zap.Error(err))
	}
	return result, err
}

func (c *Controller) dispatch(ctx context.Context, call ToolCall) (string, error) {
	kind := KindOf(call.Name)
	if kind == KindUnknown {
		return msgUnknownTool, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	if err := c.permit(kind); err != nil {
		return msgNotAvailable, err
	}

	switch kind {
	case KindConsentGiven:
		return c.resolveConsent(true)
	case KindConsentDenied:
		return c.resolveConsent(false)
	case KindUpdateConfiguration:
		return c.updateConfiguration(ctx, call.Arguments)
	case KindConfirmConfiguration:
		return c.confirmConfiguration(ctx)
	case KindCloseVoiceMode:
		return c.closeVoiceMode(ctx)
	}
	return msgUnknownTool, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
}

// allowed reports whether kind may run in state.
func allowed(state model.State, kind Kind) bool {
	switch state {
	case model.StateAwaitingConsent:
		return kind == KindConsentGiven || kind == KindConsentDenied
	case model.StateConfiguring:
		return kind == KindUpdateConfiguration || kind == KindConfirmConfiguration || kind == KindCloseVoiceMode
	case model.StateCompleted:
		return kind == KindCloseVoiceMode
	default:
		return false
	}
}

func (c *Controller) permit(kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permitLocked(kind)
}

func (c *Controller) permitLocked(kind Kind) error {
	if c.finished || !allowed(c.state, kind) {
		return fmt.Errorf("%w: state %s", ErrOperationNotAvailable, c.state)
	}
	return nil
}

func (c *Controller) resolveConsent(granted bool) (string, error) {
	if !c.consent.Resolve(granted) {
		return msgConsentRepeat, nil
	}
	if granted {
		return msgConsentGiven, nil
	}
	return msgConsentDenied, nil
}

func (c *Controller) updateConfiguration(ctx context.Context, args json.RawMessage) (string, error) {
	opt, err := parseSelection(args)
	if err != nil {
		return invalidArgumentMessage(err), err
	}

	c.mu.Lock()
	if err := c.permitLocked(KindUpdateConfiguration); err != nil {
		c.mu.Unlock()
		return msgNotAvailable, err
	}
	if c.strictPartIDs {
		if _, ok := c.knownIDs[opt.UniqueID]; !ok {
			c.mu.Unlock()
			err := fmt.Errorf("%w: unknown part %q", ErrInvalidToolArgument, opt.UniqueID)
			return invalidArgumentMessage(err), err
		}
	}
	c.doc.Append(opt)
	selected := len(c.doc.SelectedOptions)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("configuration updated",
		zap.String("unique_id", opt.UniqueID),
		zap.String("name", opt.Name),
		zap.Int("selected_options", selected),
	)

	c.broadcast(ctx, model.UpdateEvent(opt))
	c.saveSnapshot(ctx, snap)

	return "The product configuration is updated to " + opt.String(), nil
}

func (c *Controller) confirmConfiguration(ctx context.Context) (string, error) {
	c.mu.Lock()
	if err := c.permitLocked(KindConfirmConfiguration); err != nil {
		c.mu.Unlock()
		return msgNotAvailable, err
	}
	c.state = model.StateCompleted
	c.recordLocked(model.OutcomeCompleted)
	teardown := c.teardownOnConfirm
	if teardown {
		c.finished = true
	}
	doc := c.doc.Snapshot()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("state transition", zap.String("state", string(model.StateCompleted)))

	c.broadcast(ctx, model.CompleteEvent(doc))
	c.saveSnapshot(ctx, snap)

	if teardown {
		c.teardown(ctx)
		c.finish()
	}

	selection, err := json.Marshal(doc.SelectedOptions)
	if err != nil {
		selection = []byte("[]")
	}
	return fmt.Sprintf("Thank you for confirming your product configuration: %s. We will proceed with the next steps.", selection), nil
}

func (c *Controller) closeVoiceMode(ctx context.Context) (string, error) {
	c.mu.Lock()
	if err := c.permitLocked(KindCloseVoiceMode); err != nil {
		c.mu.Unlock()
		return msgNotAvailable, err
	}
	if c.state == model.StateConfiguring {
		c.state = model.StateClosedByUser
		c.recordLocked(model.OutcomeClosedByUser)
	}
	c.finished = true
	state := c.state
	doc := c.doc.Snapshot()
	c.mu.Unlock()

	c.logger.Info("voice mode closed by user", zap.String("state", string(state)))

	c.broadcast(ctx, model.CloseVoiceModeEvent(doc))
	c.teardown(ctx)
	c.finish()

	return msgClose, nil
}

func (c *Controller) decline(ctx context.Context) {
	c.mu.Lock()
	c.state = model.StateDeclined
	c.recordLocked(model.OutcomeDeclined)
	c.finished = true
	c.mu.Unlock()

	c.logger.Info("state transition", zap.String("state", string(model.StateDeclined)))

	c.runtime.SetScope(Scope{Instructions: c.templates.DeclineNotice})
	if err := c.runtime.GenerateReply(ctx, ReplyOptions{Instructions: c.templates.DeclineNotice}); err != nil {
		c.logger.Warn("decline notice failed", zap.Error(err))
	}

	c.teardown(ctx)
	c.finish()
}

func (c *Controller) startConfiguring(ctx context.Context) {
	c.mu.Lock()
	c.state = model.StateConfiguring
	c.instructions = c.templates.AssistantInstructions(c.product)
	instructions := c.instructions
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("state transition", zap.String("state", string(model.StateConfiguring)))

	c.runtime.SetScope(Scope{Instructions: instructions, Tools: ConfigurationTools()})
	c.saveSnapshot(ctx, snap)

	err := c.runtime.GenerateReply(ctx, ReplyOptions{
		UserInput:    c.templates.SessionInput(c.product),
		Instructions: c.templates.StartConfiguring,
		ToolChoice:   ToolUpdateConfiguration,
	})
	if err != nil {
		c.logger.Warn("start configuring request failed", zap.Error(err))
	}

	c.inbox.Activate()
}

func (c *Controller) abandon() {
	c.mu.Lock()
	c.recordLocked(model.OutcomeAbandoned)
	c.finished = true
	c.mu.Unlock()
	c.finish()
}

// HandleData accepts one inbound data-channel message. It never blocks on processing.
func (c *Controller) HandleData(pkt DataPacket) {
	if !utf8.Valid(pkt.Payload) {
		metrics.DataMessagesTotal.WithLabelValues("malformed").Inc()
		c.logger.Debug("dropping data-channel payload",
			zap.String("topic", pkt.Topic),
			zap.Int("bytes", len(pkt.Payload)),
			zap.Error(ErrMalformedPayload),
		)
		return
	}

	if !c.inbox.Offer(string(pkt.Payload)) {
		c.logger.Debug("data-channel message after session end", zap.String("topic", pkt.Topic))
	}
}

// absorb injects one data-channel message into the runtime's context and asks it to continue.
func (c *Controller) absorb(msg string) {
	defer c.guard("data-channel message")

	ctx, span := tracer.Start(c.runCtx, "dialog.absorb_data", trace.WithAttributes(
		attribute.String("room", c.room),
		attribute.Int("bytes", len(msg)),
	))
	defer span.End()

	c.mu.Lock()
	if c.finished || c.state != model.StateConfiguring {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("ignoring data-channel message", zap.String("state", string(state)))
		return
	}
	learned := c.learnPartIDsLocked(msg)
	c.instructions = c.templates.UpdatedAssistantInstructions(c.product, msg)
	instructions := c.instructions
	c.mu.Unlock()

	c.logger.Info("absorbing data-channel update", zap.Int("bytes", len(msg)), zap.Int("learned_parts", learned))

	if err := c.runtime.AddSystemMessage(ctx, c.templates.DataUpdateMessage(msg)); err != nil {
		span.RecordError(err)
		c.logger.Warn("failed to inject data-channel update", zap.Error(err))
		return
	}

	c.runtime.SetScope(Scope{Instructions: instructions, Tools: ConfigurationTools()})

	err := c.runtime.GenerateReply(ctx, ReplyOptions{
		Instructions: continueInstruction,
		ToolChoice:   ToolUpdateConfiguration,
	})
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("continue request after data update failed", zap.Error(err))
	}
}

// learnPartIDsLocked accepts part ids announced by a data-channel payload.
func (c *Controller) learnPartIDsLocked(msg string) int {
	var parts []model.Part

	var wrapped struct {
		Parts []model.Part `json:"parts"`
	}
	if err := json.Unmarshal([]byte(msg), &wrapped); err == nil {
		parts = wrapped.Parts
	} else if err := json.Unmarshal([]byte(msg), &parts); err != nil {
		return 0
	}

	learned := 0
	model.WalkParts(parts, func(p model.Part) {
		if p.UniqueID == "" {
			return
		}
		if _, ok := c.knownIDs[p.UniqueID]; !ok {
			c.knownIDs[p.UniqueID] = struct{}{}
			learned++
		}
	})
	return learned
}

func (c *Controller) subscribe() func() {
	noop := func() {}
	if c.data == nil {
		c.logger.Warn("session continues without data channel", zap.Error(ErrMissingTransport))
		return noop
	}

	unsubscribe, err := c.data.SubscribeData(c.HandleData)
	if err != nil {
		c.logger.Warn("session continues without data channel",
			zap.Error(fmt.Errorf("%w: %v", ErrMissingTransport, err)))
		return noop
	}
	if unsubscribe == nil {
		return noop
	}
	return unsubscribe
}

func (c *Controller) broadcast(ctx context.Context, event model.ConfigEvent) {
	defer c.guard("event broadcast")

	if c.publisher == nil {
		c.logger.Warn("configuration event not delivered",
			zap.String("type", string(event.Type)),
			zap.Error(ErrMissingTransport))
		return
	}

	if err := c.publisher.Publish(ctx, model.ConfigTopic, event); err != nil {
		c.logger.Warn("configuration event not delivered",
			zap.String("type", string(event.Type)),
			zap.Error(fmt.Errorf("%w: %v", ErrTransportPublish, err)))
	}
}

// teardown deletes the snapshot and the room once per session. Failures are logged.
func (c *Controller) teardown(ctx context.Context) {
	c.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()

		if c.snapshots != nil {
			if err := c.snapshots.Delete(ctx, c.room); err != nil {
				c.logger.Debug("snapshot delete failed", zap.Error(err))
			}
		}

		c.deleteRoom(ctx)
	})
}

func (c *Controller) deleteRoom(ctx context.Context) {
	defer c.guard("room deletion")

	if c.closer == nil {
		c.logger.Warn("room not deleted", zap.Error(ErrMissingTransport))
		return
	}

	if err := c.closer.DeleteRoom(ctx); err != nil {
		metrics.RecordRoomDelete(false)
		c.logger.Warn("room not deleted", zap.Error(fmt.Errorf("%w: %v", ErrRoomTeardown, err)))
		return
	}
	metrics.RecordRoomDelete(true)
	c.logger.Info("room deleted")
}

func (c *Controller) saveSnapshot(ctx context.Context, snap *model.Snapshot) {
	if c.snapshots == nil || snap == nil {
		return
	}
	if err := c.snapshots.Save(ctx, snap); err != nil {
		c.logger.Warn("snapshot save failed", zap.Error(err))
	}
}

func (c *Controller) snapshotLocked() *model.Snapshot {
	c.version++
	return &model.Snapshot{
		Room:      c.room,
		State:     c.state,
		Document:  c.doc.Snapshot(),
		Version:   c.version,
		UpdatedAt: time.Now().UTC(),
	}
}

func (c *Controller) recordLocked(outcome model.Outcome) {
	if c.outcome == model.OutcomeNone {
		c.outcome = outcome
	}
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) guard(what string) {
	if r := recover(); r != nil {
		c.logger.Error("recovered panic", zap.String("in", what), zap.Any("panic", r))
	}
}

// Done is closed once the session has reached its end.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State returns the current phase.
func (c *Controller) State() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outcome returns how the session ended, or OutcomeNone while it is still open.
func (c *Controller) Outcome() model.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Document returns a copy of the configuration document.
func (c *Controller) Document() *model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Snapshot()
}

// Info describes the session for the worker's session listing.
func (c *Controller) Info() model.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.SessionInfo{
		Room:      c.room,
		JobID:     c.jobID,
		State:     c.state,
		Selected:  len(c.doc.SelectedOptions),
		StartedAt: c.startedAt,
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidToolArgument):
		return "invalid_argument"
	case errors.Is(err, ErrOperationNotAvailable):
		return "not_available"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	default:
		return "error"
	}
}

func invalidArgumentMessage(err error) string {
	return fmt.Sprintf("The configuration was not updated (%v). Call updateConfiguration again with the uniqueId and name of the part from the product data.", err)
}
