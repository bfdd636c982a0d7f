package capsule

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/value"
)

// DefaultWarnTokens is the token estimate above which a compile logs a warning.
const DefaultWarnTokens = 6000

// Reader reads surface documents. *surface.Store satisfies it.
type Reader interface {
	Read(ctx context.Context, sessionID string, k surface.Kind) (value.Value, error)
}

// Compiler resolves variable paths against a Reader and assembles capsules.
type Compiler struct {
	docs       Reader
	warnTokens int
	logger     *zap.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithWarnTokens sets the warning threshold. Zero disables the warning.
func WithWarnTokens(n int) Option {
	return func(c *Compiler) { c.warnTokens = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCompiler returns a Compiler reading from docs.
func NewCompiler(docs Reader, opts ...Option) *Compiler {
	c := &Compiler{
		docs:       docs,
		warnTokens: DefaultWarnTokens,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveVariable resolves one dotted path. It never fails: an unknown
// surface, unreadable document, missing field or non-object intermediate all
// yield null content.
func (c *Compiler) ResolveVariable(ctx context.Context, sessionID, path string) ResolvedVariable {
	rv := ResolvedVariable{Path: path, Marker: MarkerFor(path)}

	segments := strings.Split(path, ".")
	kind, err := surface.ParseKind(segments[0])
	if err != nil {
		return rv
	}
	doc, err := c.docs.Read(ctx, sessionID, kind)
	if err != nil {
		return rv
	}
	if content, ok := doc.Lookup(segments[1:]...); ok {
		rv.Content = content
	}
	return rv
}

// AssembleCapsule renders "[MARKER: path]" sections in input order, separated
// by blank lines, and appends a "[USER]" section when userInput is non-empty.
func AssembleCapsule(vars []ResolvedVariable, userInput string) string {
	sections := make([]string, 0, len(vars)+1)
	for _, v := range vars {
		sections = append(sections, fmt.Sprintf("[%s: %s]\n%s", v.Marker, v.Path, FormatContent(v.Content)))
	}
	if userInput != "" {
		sections = append(sections, "[USER]\n"+userInput)
	}
	return strings.Join(sections, "\n\n")
}

// CompileCapsule resolves every path against current surface state and
// assembles the result. Paths are resolved one at a time, not from a snapshot.
func (c *Compiler) CompileCapsule(ctx context.Context, sessionID string, paths []string, userInput string) (*Assembled, error) {
	if len(paths) == 0 {
		return nil, errors.NewInvalidRequest("at least one variable path is required")
	}
	for i, p := range paths {
		if strings.TrimSpace(p) == "" {
			return nil, errors.NewCapsuleAssembly(fmt.Sprintf("variable path at index %d is empty", i))
		}
	}

	vars := make([]ResolvedVariable, 0, len(paths))
	for _, p := range paths {
		vars = append(vars, c.ResolveVariable(ctx, sessionID, p))
	}

	text := AssembleCapsule(vars, userInput)
	lint := Lint(text, c.warnTokens)
	recordCompile(lint)
	if lint.OverBudget {
		c.logger.Warn("capsule exceeds token warning threshold",
			zap.String("session.id", sessionID),
			zap.Int("tokens_estimate", lint.TokensEstimate),
			zap.Int("warn_tokens", lint.WarnTokens))
	}

	return &Assembled{
		Text:           text,
		Variables:      vars,
		Chars:          lint.Chars,
		TokensEstimate: lint.TokensEstimate,
	}, nil
}
