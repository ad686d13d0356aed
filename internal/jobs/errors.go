package jobs

import "errors"

var (
	// ErrJobNotFound は指定IDのジョブが存在しない場合に返されます。
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists は同じIDのジョブを二重に作成しようとした場合に返されます。
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidTransition は許可されていない状態遷移です。
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConcurrentUpdate は Redis 上で同じレコードが同時に更新された場合に返されます。
	ErrConcurrentUpdate = errors.New("job record changed concurrently")
	// ErrQueueClosed は Close 後のキュー操作で返されます。
	ErrQueueClosed = errors.New("queue closed")
)

// Error は API 利用者に返すコード付きエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
