package snmp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no matching response arrived within the
	// retry budget.
	ErrTimeout = errors.New("snmp: request timed out")

	// ErrDecode wraps every malformed-message failure.
	ErrDecode = errors.New("snmp: malformed message")

	// ErrEncode is returned when a message cannot be represented in BER.
	ErrEncode = errors.New("snmp: cannot encode message")

	ErrAuthFailure         = errors.New("snmp: authentication failure")
	ErrDecrypt             = errors.New("snmp: decryption failure")
	ErrNotInTimeWindow     = errors.New("snmp: not in time window")
	ErrUnknownEngineID     = errors.New("snmp: unknown engine ID")
	ErrUnknownUser         = errors.New("snmp: unknown user name")
	ErrUnsupportedSecLevel = errors.New("snmp: unsupported security level")
	ErrUnknownSecurity     = errors.New("snmp: unexpected report")

	// ErrDiscovery is returned when engine discovery yields no usable engine ID.
	ErrDiscovery = errors.New("snmp: engine discovery failed")
)

// ErrorStatus is the error-status field of a response PDU.
type ErrorStatus int

const (
	NoError             ErrorStatus = 0
	TooBig              ErrorStatus = 1
	NoSuchName          ErrorStatus = 2
	BadValue            ErrorStatus = 3
	ReadOnly            ErrorStatus = 4
	GenErr              ErrorStatus = 5
	NoAccess            ErrorStatus = 6
	WrongType           ErrorStatus = 7
	WrongLength         ErrorStatus = 8
	WrongEncoding       ErrorStatus = 9
	WrongValue          ErrorStatus = 10
	NoCreation          ErrorStatus = 11
	InconsistentValue   ErrorStatus = 12
	ResourceUnavailable ErrorStatus = 13
	CommitFailed        ErrorStatus = 14
	UndoFailed          ErrorStatus = 15
	AuthorizationError  ErrorStatus = 16
	NotWritable         ErrorStatus = 17
	InconsistentName    ErrorStatus = 18
)

var errorStatusNames = [...]string{
	"noError", "tooBig", "noSuchName", "badValue", "readOnly", "genErr",
	"noAccess", "wrongType", "wrongLength", "wrongEncoding", "wrongValue",
	"noCreation", "inconsistentValue", "resourceUnavailable", "commitFailed",
	"undoFailed", "authorizationError", "notWritable", "inconsistentName",
}

func (s ErrorStatus) String() string {
	if s >= 0 && int(s) < len(errorStatusNames) {
		return errorStatusNames[s]
	}
	return fmt.Sprintf("errorStatus(%d)", int(s))
}

// ResponseError is returned when an agent answers with a non-zero
// error-status.
type ResponseError struct {
	Status ErrorStatus
	Index  int
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("snmp: agent returned %s (index %d)", e.Status, e.Index)
}

// IsNoSuchName reports whether err is a v1 noSuchName response.
func IsNoSuchName(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Status == NoSuchName
}
