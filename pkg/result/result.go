// Package result carries a payload or an error, never both, for call sites
// that collect several independent outcomes before responding.
package result

import "encoding/json"

type Result[T any] struct {
	data T
	err  error
}

func Ok[T any](v T) Result[T] { return Result[T]{data: v} }

func Fail[T any](err error) Result[T] { return Result[T]{err: err} }

// Of builds a Result from a conventional (value, error) pair, dropping the
// value when err is set.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

func (r Result[T]) Unwrap() (T, error) { return r.data, r.err }

func (r Result[T]) Err() error { return r.err }

func (r Result[T]) OK() bool { return r.err == nil }

// MarshalJSON renders {"data": ...} or {"error": "..."}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.err != nil {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.err.Error()})
	}
	return json.Marshal(struct {
		Data T `json:"data"`
	}{r.data})
}
