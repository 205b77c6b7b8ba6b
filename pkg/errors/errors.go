package errors

import "fmt"

// Error codes
const (
	CodeSetup    = "SETUP_ERROR"
	CodeReset    = "RESET_ERROR"
	CodeInject   = "INJECT_ERROR"
	CodeSend     = "SEND_ERROR"
	CodeExtract  = "EXTRACT_ERROR"
	CodeStore    = "STORE_ERROR"
	CodeCache    = "CACHE_ERROR"
	CodeGenerate = "GENERATE_ERROR"
)

type TestError struct {
	Message string
	Code    string
	Context map[string]any
	Cause   error
}

func (e *TestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TestError) Unwrap() error {
	return e.Cause
}

func NewTestError(message, code string, context map[string]any) *TestError {
	return &TestError{
		Message: message,
		Code:    code,
		Context: context,
	}
}

func (e *TestError) WithCause(cause error) *TestError {
	e.Cause = cause
	return e
}

// SetupError is fatal to the whole run: missing credentials, unreachable
// session, unresolvable persona/prompt bundle.
type SetupError struct {
	*TestError
}

func NewSetupError(message string, cause error) *SetupError {
	return &SetupError{
		TestError: &TestError{
			Message: message,
			Code:    CodeSetup,
			Cause:   cause,
		},
	}
}

// ResetError means the isolation guarantee for the next cell could not be
// established. Stage names the step of the clear-memory procedure that failed.
type ResetError struct {
	*TestError
	Stage string
}

func NewResetError(message, stage string, cause error) *ResetError {
	return &ResetError{
		TestError: &TestError{
			Message: message,
			Code:    CodeReset,
			Context: map[string]any{
				"stage": stage,
			},
			Cause: cause,
		},
		Stage: stage,
	}
}

type InjectError struct {
	*TestError
	PersonaID string
}

func NewInjectError(message, personaID string, cause error) *InjectError {
	return &InjectError{
		TestError: &TestError{
			Message: message,
			Code:    CodeInject,
			Context: map[string]any{
				"persona_id": personaID,
			},
			Cause: cause,
		},
		PersonaID: personaID,
	}
}

type SendError struct {
	*TestError
}

func NewSendError(message string, cause error) *SendError {
	return &SendError{
		TestError: &TestError{
			Message: message,
			Code:    CodeSend,
			Cause:   cause,
		},
	}
}

type ExtractError struct {
	*TestError
	TurnIndex int
}

func NewExtractError(message string, turnIndex int, cause error) *ExtractError {
	return &ExtractError{
		TestError: &TestError{
			Message: message,
			Code:    CodeExtract,
			Context: map[string]any{
				"turn_index": turnIndex,
			},
			Cause: cause,
		},
		TurnIndex: turnIndex,
	}
}

type StoreError struct {
	*TestError
	Operation string
}

func NewStoreError(message, operation string, cause error) *StoreError {
	return &StoreError{
		TestError: &TestError{
			Message: message,
			Code:    CodeStore,
			Context: map[string]any{
				"operation": operation,
			},
			Cause: cause,
		},
		Operation: operation,
	}
}

type CacheError struct {
	*TestError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		TestError: &TestError{
			Message: message,
			Code:    CodeCache,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

type GenerateError struct {
	*TestError
	Provider string
}

func NewGenerateError(message, provider string, cause error) *GenerateError {
	return &GenerateError{
		TestError: &TestError{
			Message: message,
			Code:    CodeGenerate,
			Context: map[string]any{
				"provider": provider,
			},
			Cause: cause,
		},
		Provider: provider,
	}
}
