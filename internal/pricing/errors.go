package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientSources 表示新鲜度过滤后存活的报价来源不足。
	ErrInsufficientSources = errors.New("pricing: 新鲜报价来源不足")
	// ErrInconsistent 表示多源价格偏差超出容忍范围。
	ErrInconsistent = errors.New("pricing: 多源价格偏差超出容忍范围")
)

// SourceKind 区分来源级错误类型。
type SourceKind string

const (
	SourceTimeout     SourceKind = "timeout"
	SourceUnavailable SourceKind = "unavailable"
	SourceMalformed   SourceKind = "malformed"
)

// SourceError 为来源级错误，均不在来源内部重试，由共识层以排除处理。
type SourceError struct {
	Source string
	Kind   SourceKind
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pricing: 来源 %s %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("pricing: 来源 %s %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func newSourceError(source string, kind SourceKind, err error) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

// IsSourceTransient 判断来源错误是否为瞬时故障（超时或不可用）。
func IsSourceTransient(err error) bool {
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return srcErr.Kind == SourceTimeout || srcErr.Kind == SourceUnavailable
	}
	return false
}
