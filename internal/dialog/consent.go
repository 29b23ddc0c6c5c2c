package dialog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/prompts"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

// Consent is the sub-dialog that asks whether the user wants to continue in voice mode.
// It resolves exactly once.
type Consent struct {
	runtime   Runtime
	templates prompts.Templates
	product   *model.Product
	logger    *logger.Logger

	once   sync.Once
	result chan bool
}

// NewConsent creates the consent sub-dialog for a product.
func NewConsent(rt Runtime, templates prompts.Templates, product *model.Product, log *logger.Logger) *Consent {
	return &Consent{
		runtime:   rt,
		templates: templates,
		product:   product,
		logger:    log,
		result:    make(chan bool, 1),
	}
}

// Scope is the instruction and tool set of the sub-dialog.
func (c *Consent) Scope() Scope {
	return Scope{
		Instructions: c.templates.ConsentInstructions(c.product),
		Tools:        ConsentTools(),
	}
}

// Run asks the question and blocks until Resolve is called or ctx is done.
func (c *Consent) Run(ctx context.Context) (bool, error) {
	scope := c.Scope()
	c.runtime.SetScope(scope)

	if err := c.runtime.GenerateReply(ctx, ReplyOptions{Instructions: scope.Instructions}); err != nil {
		// The user can still answer on the next turn.
		c.logger.Warn("consent prompt failed", zap.Error(err))
	}

	select {
	case granted := <-c.result:
		c.logger.Info("consent resolved", zap.Bool("granted", granted))
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve records the answer. It reports whether this call was the one that resolved it.
func (c *Consent) Resolve(granted bool) bool {
	resolved := false
	c.once.Do(func() {
		c.result <- granted
		resolved = true
	})
	return resolved
}
