package mailerr

import (
	"errors"
	"fmt"
)

// Kind classifies a relay failure.
type Kind int

const (
	// KindTransient failures (rate limits, rejected message, 5xx) are counted
	// but leave the relay eligible for selection.
	KindTransient Kind = iota
	// KindAuth failures mean the relay credentials were refused.
	KindAuth
	// KindConnection failures mean the relay could not be reached.
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConnection:
		return "connection"
	default:
		return "transient"
	}
}

// MarksUnhealthy reports whether a failure of this kind takes the relay out of rotation.
func (k Kind) MarksUnhealthy() bool {
	return k == KindAuth || k == KindConnection
}

// TransportError is a relay failure with a classification.
type TransportError struct {
	Kind Kind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Auth classifies err as an authentication failure.
func Auth(err error) error { return classify(KindAuth, err) }

// Connection classifies err as a connection failure.
func Connection(err error) error { return classify(KindConnection, err) }

// Transient classifies err as a transient failure.
func Transient(err error) error { return classify(KindTransient, err) }

func classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Kind: kind, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}
