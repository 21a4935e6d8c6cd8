// Package amqperror defines the error taxonomy of the broker core.
//
// Every failure raised by the identity allocator, the request/response
// correlator and the topology registry is an *Error carrying the kind of the
// failure, the operation that raised it and the offending id, name or type.
// Each kind maps onto an AMQP reply code and a scope (channel or connection)
// so the session layer knows whether to close the channel or tear down the
// whole connection.
package amqperror

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNegativeIdentity
	KindRecoveryStateViolation
	KindCorrelationMismatch
	KindNotFound
	KindUnknownExchangeType
	KindTypeConflict
	KindStorageFailure
)

var (
	// Identity errors
	ErrNegativeIdentity       = errors.New("identity: message ids can only be positive")
	ErrRecoveryStateViolation = errors.New("identity: operation not valid in current recovery state")

	// Correlation errors
	ErrCorrelationMismatch = errors.New("correlation: response references unknown request")

	// Topology errors
	ErrNotFound            = errors.New("topology: not found")
	ErrUnknownExchangeType = errors.New("topology: unknown exchange type")
	ErrTypeConflict        = errors.New("topology: exchange type conflict")

	// Store errors
	ErrStorageFailure = errors.New("store: operation failed")
)

// Scope says what a protocol peer must tear down when the error surfaces.
type Scope int

const (
	// ScopeNone errors are returned to the caller without closing anything.
	ScopeNone Scope = iota
	// ScopeChannel errors close the channel the request arrived on.
	ScopeChannel
	// ScopeConnection errors close the connection.
	ScopeConnection
)

func (s Scope) String() string {
	switch s {
	case ScopeChannel:
		return "channel"
	case ScopeConnection:
		return "connection"
	default:
		return "none"
	}
}

type kindInfo struct {
	name     string
	sentinel error
	code     int
	scope    Scope
}

var kinds = map[Kind]kindInfo{
	KindNegativeIdentity:       {"NegativeIdentity", ErrNegativeIdentity, amqp.InternalError, ScopeNone},
	KindRecoveryStateViolation: {"RecoveryStateViolation", ErrRecoveryStateViolation, amqp.InternalError, ScopeNone},
	KindCorrelationMismatch:    {"CorrelationMismatch", ErrCorrelationMismatch, amqp.UnexpectedFrame, ScopeChannel},
	KindNotFound:               {"NotFound", ErrNotFound, amqp.NotFound, ScopeChannel},
	KindUnknownExchangeType:    {"UnknownExchangeType", ErrUnknownExchangeType, amqp.CommandInvalid, ScopeConnection},
	KindTypeConflict:           {"TypeConflict", ErrTypeConflict, amqp.NotAllowed, ScopeConnection},
	KindStorageFailure:         {"StorageFailure", ErrStorageFailure, amqp.InternalError, ScopeNone},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "Unknown"
}

// Code returns the AMQP reply code for the kind.
func (k Kind) Code() int {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return amqp.InternalError
}

// Scope returns the teardown scope for the kind.
func (k Kind) Scope() Scope {
	return kinds[k].scope
}

// Error is a broker core error
type Error struct {
	Kind Kind   // Kind of failure
	Op   string // Operation that failed
	Name string // Offending exchange/queue name, message id or request id
	Type string // Offending exchange type, if any
	Err  error  // Underlying error, e.g. from the store
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Name != "" {
		msg += fmt.Sprintf(" '%s'", e.Name)
	}
	if e.Type != "" {
		msg += fmt.Sprintf(" (type %s)", e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrNotFound)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	info, ok := kinds[e.Kind]
	return ok && target == info.sentinel
}

// Code returns the AMQP reply code.
func (e *Error) Code() int { return e.Kind.Code() }

// Reason returns the reply text sent to the peer.
func (e *Error) Reason() string { return e.Error() }

// New builds an *Error of the given kind.
func New(kind Kind, op, name string) *Error {
	return &Error{Kind: kind, Op: op, Name: name}
}

// NegativeIdentity reports an identity that is not positive.
func NegativeIdentity(op string, id int64) *Error {
	return New(KindNegativeIdentity, op, fmt.Sprintf("%d", id))
}

// RecoveryStateViolation reports an operation invalid in the current mode.
func RecoveryStateViolation(op, mode string) *Error {
	return &Error{Kind: KindRecoveryStateViolation, Op: op, Name: mode}
}

// CorrelationMismatch reports a response for a request id that is not pending.
func CorrelationMismatch(channel uint16, requestID uint64) *Error {
	return New(KindCorrelationMismatch, fmt.Sprintf("channel %d response", channel), fmt.Sprintf("%d", requestID))
}

// NotFound reports an absent exchange or queue.
func NotFound(op, name string) *Error {
	return New(KindNotFound, op, name)
}

// UnknownExchangeType reports an exchange kind the factory does not know.
func UnknownExchangeType(op, name, typ string) *Error {
	return &Error{Kind: KindUnknownExchangeType, Op: op, Name: name, Type: typ}
}

// TypeConflict reports a redeclare of an exchange with a different type.
func TypeConflict(name, existing, requested string) *Error {
	return &Error{
		Kind: KindTypeConflict,
		Op:   "declare exchange",
		Name: name,
		Type: requested,
		Err:  fmt.Errorf("attempt to redeclare exchange of type %s to %s", existing, requested),
	}
}

// StorageFailure wraps an error returned by the store collaborator.
func StorageFailure(op, name string, err error) *Error {
	return &Error{Kind: KindStorageFailure, Op: op, Name: name, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ScopeOf returns the teardown scope of err.
func ScopeOf(err error) Scope {
	return KindOf(err).Scope()
}

// IsConnectionFatal determines if the declaring connection must be closed
func IsConnectionFatal(err error) bool {
	return ScopeOf(err) == ScopeConnection
}

// IsChannelFatal determines if the channel must be closed
func IsChannelFatal(err error) bool {
	return ScopeOf(err) == ScopeChannel
}

// AsAMQPError converts err to the amqp091 representation used on close
// methods. Errors outside the taxonomy become internal errors.
func AsAMQPError(err error) *amqp.Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &amqp.Error{Code: amqp.InternalError, Reason: err.Error(), Server: true}
	}
	return &amqp.Error{
		Code:    e.Code(),
		Reason:  e.Reason(),
		Server:  true,
		Recover: e.Kind.Scope() != ScopeConnection,
	}
}
