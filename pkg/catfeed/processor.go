package catfeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ValidationMode selects how much of a batch is checked before extraction.
type ValidationMode int

const (
	// ValidateAll checks every message up front. Nothing is logged or
	// extracted from a batch that fails.
	ValidateAll ValidationMode = iota
	// ValidateFirst only checks the first message before extraction. A
	// later defect is reported as ErrMalformedMessage.
	ValidateFirst
)

func (m ValidationMode) String() string {
	switch m {
	case ValidateAll:
		return "all"
	case ValidateFirst:
		return "first"
	default:
		return fmt.Sprintf("ValidationMode(%d)", int(m))
	}
}

// ParseValidationMode maps a config string onto a ValidationMode.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch s {
	case "", "all":
		return ValidateAll, nil
	case "first":
		return ValidateFirst, nil
	}
	return ValidateAll, fmt.Errorf("unknown validation mode %q", s)
}

// ProcessorConfig holds configuration for the Processor.
type ProcessorConfig struct {
	Validation ValidationMode
}

// Processor validates a batch of messages and flattens their cats into a
// single Result. It holds no per-call state and is safe for concurrent use.
type Processor struct {
	validation ValidationMode
	logger     zerolog.Logger
}

// NewProcessor creates a Processor. The logger receives one line per cat.
func NewProcessor(cfg ProcessorConfig, logger zerolog.Logger) *Processor {
	return &Processor{
		validation: cfg.Validation,
		logger:     logger.With().Str("component", "CatProcessor").Logger(),
	}
}

// DecodeParams parses a JSON invocation envelope. Any JSON that cannot be
// mapped onto Params is reported as an invalid argument.
func DecodeParams(data []byte) (*Params, error) {
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, invalid(-1, fmt.Sprintf("decode params: %v", err))
	}
	return &params, nil
}

// DecodeMessage parses a single JSON message, as delivered by a broker.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, invalid(-1, fmt.Sprintf("decode message: %v", err))
	}
	return &msg, nil
}

// ValidateMessage reports whether a message can be extracted from.
func ValidateMessage(msg *Message) error {
	return validateMessage(0, msg)
}

func validateMessage(index int, msg *Message) error {
	if msg == nil {
		return invalid(index, "message is null")
	}
	if msg.Value == nil {
		return invalid(index, "value is missing")
	}
	if msg.Value.Cats == nil {
		return invalid(index, "value.cats is missing")
	}
	for j, cat := range msg.Value.Cats {
		if cat == nil {
			return invalid(index, fmt.Sprintf("value.cats[%d] is null", j))
		}
	}
	return nil
}

// Validate checks a batch according to the processor's validation mode.
func (p *Processor) Validate(params *Params) error {
	if params == nil || len(params.Messages) == 0 {
		return invalid(-1, "messages is missing or empty")
	}
	first := params.Messages[0]
	if first == nil {
		return invalid(0, "message is null")
	}
	if first.Value == nil {
		return invalid(0, "value is missing")
	}
	if p.validation == ValidateFirst {
		return nil
	}
	for i, msg := range params.Messages {
		if err := validateMessage(i, msg); err != nil {
			return err
		}
	}
	return nil
}

// Process validates params and returns every cat in batch order then item
// order. Cats are appended as-is; the returned Result shares them with params.
func (p *Processor) Process(params *Params) (*Result, error) {
	if err := p.Validate(params); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			p.logger.Warn().Int("index", verr.Index).Str("reason", verr.Detail()).Msg("Rejecting invalid batch.")
		}
		return nil, err
	}

	cats := make([]Item, 0, countCats(params.Messages))
	for i, msg := range params.Messages {
		// Only reachable in ValidateFirst mode.
		if msg == nil || msg.Value == nil || msg.Value.Cats == nil {
			p.logger.Error().Int("index", i).Msg("Message has no value.cats, aborting batch.")
			return nil, fmt.Errorf("messages[%d]: %w", i, ErrMalformedMessage)
		}
		for j, cat := range msg.Value.Cats {
			if cat == nil {
				p.logger.Error().Int("index", i).Int("cat_index", j).Msg("Null cat in message, aborting batch.")
				return nil, fmt.Errorf("messages[%d].value.cats[%d]: %w", i, j, ErrMalformedMessage)
			}
			color, name := cat.Color(), cat.Name()
			p.logger.Info().Str("color", color).Str("name", name).
				Msgf("A %s cat named %s was received.", color, name)
			cats = append(cats, cat)
		}
	}

	return &Result{Cats: cats}, nil
}

func countCats(msgs []*Message) int {
	n := 0
	for _, msg := range msgs {
		if msg != nil && msg.Value != nil {
			n += len(msg.Value.Cats)
		}
	}
	return n
}
