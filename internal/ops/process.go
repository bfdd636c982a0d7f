package ops

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/capsule"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
	"github.com/hpungsan/strata/internal/logging"
	"github.com/hpungsan/strata/internal/prompts"
	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/value"
)

// ProcessInput contains parameters for Process.
type ProcessInput struct {
	SessionID string `json:"session_id,omitempty"`
	LLMID     string `json:"llm_id"`
	// Surfaces are the capsule variable paths. Empty means the role's defaults.
	Surfaces  []string `json:"surfaces,omitempty"`
	UserInput string   `json:"user_input,omitempty"`
	// StoreAs names where the response is stored. A bare surface name takes
	// a JSON-object response through the surface's merge; "surface.field"
	// takes the reply text verbatim. Empty means the role's output, if any.
	StoreAs string `json:"store_as,omitempty"`
}

// ProcessOutput is the result of a non-streaming stage.
type ProcessOutput struct {
	Text           string `json:"text"`
	TokensUsed     int    `json:"tokens_used"`
	Attempts       int    `json:"attempts"`
	StoredAs       string `json:"stored_as,omitempty"`
	CapsuleChars   int    `json:"capsule_chars"`
	TokensEstimate int    `json:"tokens_estimate"`
}

// Process runs one non-streaming stage: compile the role's capsule, call the
// model with retries, and store the response at the output target. A failure
// fails the active turn.
func (s *Service) Process(ctx context.Context, input ProcessInput) (out *ProcessOutput, err error) {
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	defer func() { err = s.failTurn(ctx, sessionID, err) }()

	ctx = logging.WithSessionID(ctx, sessionID)
	role, assembled, req, err := s.prepare(ctx, sessionID, input.LLMID, input.Surfaces, input.UserInput)
	if err != nil {
		return nil, err
	}

	storeAs := input.StoreAs
	if storeAs == "" {
		storeAs = role.Output
	}
	var kind surface.Kind
	var field string
	if storeAs != "" {
		if kind, field, err = parseTarget(storeAs); err != nil {
			return nil, err
		}
	}

	res, err := s.llm.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	out = &ProcessOutput{
		Text:           res.Text,
		TokensUsed:     res.TokensUsed,
		Attempts:       res.Attempts,
		CapsuleChars:   assembled.Chars,
		TokensEstimate: assembled.TokensEstimate,
	}

	switch {
	case kind == "":
	case field != "":
		if err := s.storeText(ctx, sessionID, kind, field, res.Text); err != nil {
			return nil, err
		}
		out.StoredAs = storeAs
	default:
		doc, perr := value.Parse([]byte(res.Text))
		if perr != nil || !doc.IsObject() {
			logging.For(ctx, s.logger).Warn("response is not a JSON object, surface not updated",
				zap.String("llm_id", role.ID),
				zap.String("surface", string(kind)),
				zap.Error(perr))
			return out, nil
		}
		if _, err := s.store.Write(ctx, sessionID, kind, doc); err != nil {
			return nil, err
		}
		out.StoredAs = string(kind)
	}
	return out, nil
}

// parseTarget splits a storage target into its surface and optional field.
// Text targets name a top-level field of an overwrite or shallow-merge kind.
func parseTarget(target string) (surface.Kind, string, error) {
	head, field, _ := strings.Cut(strings.TrimSpace(target), ".")
	kind, err := surface.ParseKind(head)
	if err != nil {
		return "", "", err
	}
	if field == "" {
		return kind, "", nil
	}
	if strings.Contains(field, ".") || surface.StrategyFor(kind) == surface.ArrayAppend {
		return "", "", errors.NewInvalidRequest("invalid text target: " + target)
	}
	return kind, field, nil
}

// storeText writes a reply verbatim into one field of a surface.
func (s *Service) storeText(ctx context.Context, sessionID string, kind surface.Kind, field, text string) error {
	var doc value.Value
	switch kind {
	case surface.KindTrace:
		base, err := s.turnTrace(ctx, sessionID)
		if err != nil {
			return err
		}
		doc = base.
			Set(field, value.String(text)).
			Set("timestamp", value.String(s.now().UTC().Format(time.RFC3339Nano)))
	default:
		if surface.StrategyFor(kind) == surface.Overwrite {
			base, err := s.store.Read(ctx, sessionID, kind)
			if err != nil {
				return err
			}
			doc = base.Set(field, value.String(text))
		} else {
			doc = value.Object(value.F(field, value.String(text)))
		}
	}
	_, err := s.store.Write(ctx, sessionID, kind, doc)
	return err
}

// prepare resolves the role and compiles its capsule into a chat request.
func (s *Service) prepare(ctx context.Context, sessionID, llmID string, paths []string, userInput string) (prompts.Role, *capsule.Assembled, inference.Request, error) {
	role, err := s.roles.Role(llmID)
	if err != nil {
		return prompts.Role{}, nil, inference.Request{}, err
	}
	if len(paths) == 0 {
		paths = role.Variables
	}
	if err := validatePaths(paths); err != nil {
		return prompts.Role{}, nil, inference.Request{}, err
	}

	assembled, err := s.compiler.CompileCapsule(ctx, sessionID, paths, userInput)
	if err != nil {
		return prompts.Role{}, nil, inference.Request{}, err
	}

	system, err := s.roles.Prompt(role.ID)
	if err != nil {
		return prompts.Role{}, nil, inference.Request{}, err
	}

	req := inference.Request{
		Model:    s.model,
		System:   system,
		Messages: []inference.Message{{Role: "user", Content: assembled.Text}},
		Format:   role.Format,
	}
	logging.For(ctx, s.logger).Debug("stage prepared",
		zap.String("llm_id", role.ID),
		zap.Int("variables", len(assembled.Variables)),
		zap.Int("tokens_estimate", assembled.TokensEstimate))
	return role, assembled, req, nil
}
