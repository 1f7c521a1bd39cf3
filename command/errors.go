package command

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the interpreter. Their text is the reply sent to the
// client.
var (
	ErrNestedMulti      = errors.New("ERR MULTI calls can not be nested")
	ErrExecWithoutMulti = errors.New("ERR EXEC without MULTI")
	ErrDiscardNoMulti   = errors.New("ERR DISCARD without MULTI")
	ErrSyntax           = errors.New("ERR syntax error")
	ErrNotInteger       = errors.New("ERR value is not an integer or out of range")
	ErrOutOfRange       = errors.New("ERR value is out of range, must be positive")
	ErrNegativeTimeout  = errors.New("ERR timeout is negative")
	ErrInvalidTimeout   = errors.New("ERR timeout is not a float or out of range")
	ErrNotFromScript    = errors.New("ERR This Redis command is not allowed from script")
	ErrNotInMulti       = errors.New("ERR Command not allowed inside a transaction")
	ErrNotMaster        = errors.New("ERR PSYNC is only served by a master")
)

// UnknownCommandError is returned for a command name outside the
// supported set
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("ERR unknown command '%s'", e.Name)
}

// errorText turns err into a reply error message. Messages that do not
// start with an upper-case error code get the generic ERR prefix.
func errorText(err error) string {
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(err.Error())

	code, _, _ := strings.Cut(msg, " ")
	if code == "" || code != strings.ToUpper(code) || strings.ContainsAny(code, ":.") {
		return "ERR " + msg
	}
	return msg
}
