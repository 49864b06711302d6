package feed

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted 表示 Dispatcher 已在运行。
var ErrAlreadyStarted = errors.New("feed: dispatcher already started")

// ConnectionError 表示传输层错误，运行期间总是通过重连恢复。
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DecodeError 表示无法解析的消息帧，该帧会被丢弃。
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed: decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("feed: decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
