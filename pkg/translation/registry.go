package translation

import (
	"errors"

	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNoTranslator is returned when no registered translator claims a message.
var ErrNoTranslator = errors.New("no translator can process the message")

// Registry dispatches inbound messages to the first translator that claims them.
// Translators are registered up front; the registry is then safe for concurrent use.
type Registry struct {
	translators []namedTranslator
	logger      zerolog.Logger
}

type namedTranslator struct {
	name       string
	translator Translator
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "TranslatorRegistry").Logger(),
	}
}

// Register adds a translator. Translators are tried in registration order.
func (r *Registry) Register(name string, t Translator) *Registry {
	r.translators = append(r.translators, namedTranslator{name: name, translator: t})
	r.logger.Info().Str("translator", name).Msg("Translator registered.")
	return r
}

// Len returns the number of registered translators.
func (r *Registry) Len() int {
	return len(r.translators)
}

// Dispatch returns the first translator whose CanProcess accepts msg, along with
// the name it was registered under.
func (r *Registry) Dispatch(msg types.InboundMessage) (string, Translator, bool) {
	for _, nt := range r.translators {
		if nt.translator.CanProcess(msg) {
			return nt.name, nt.translator, true
		}
	}
	return "", nil, false
}

// Translate dispatches msg and executes the chosen translator, returning the
// name it was registered under with its Result.
func (r *Registry) Translate(msg types.InboundMessage) (string, Result, error) {
	name, t, ok := r.Dispatch(msg)
	if !ok {
		r.logger.Debug().Msg("No translator claimed the message.")
		return "", Result{}, ErrNoTranslator
	}
	result := t.Execute(msg)
	r.logger.Debug().Str("translator", name).Stringer("outcome", result.Outcome).Int("commit_count", len(result.Commits)).Msg("Message translated.")
	return name, result, nil
}
