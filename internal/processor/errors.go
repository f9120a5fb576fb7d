package processor

import (
	"context"
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrExtraction     = errors.New("档案抽取失败")
	ErrDiscoveryParse = errors.New("机会列表解析失败")
	ErrDiscoveryEmpty = errors.New("未发现匹配的机会")
	ErrTransport      = errors.New("推理服务不可用")
	ErrPlanValidation = errors.New("行动计划校验失败")

	errEmptyResponse = errors.New("推理服务返回空内容")
)

// ErrorKind 面向调用方的错误分类
type ErrorKind string

const (
	KindExtraction     ErrorKind = "ExtractionError"
	KindDiscoveryParse ErrorKind = "DiscoveryParseError"
	KindDiscoveryEmpty ErrorKind = "DiscoveryEmptyError"
	KindTransport      ErrorKind = "TransportError"
	KindPlanValidation ErrorKind = "PlanValidationError"
	KindInternal       ErrorKind = "InternalError"
)

// ProcessError 包含详细错误信息的自定义错误
type ProcessError struct {
	Op      string
	BaseErr error
	Detail  string
	Cause   error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 同时暴露基础错误和底层原因，errors.Is 两者都能匹配
func (e *ProcessError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.BaseErr}
	}
	return []error{e.BaseErr, e.Cause}
}

// 错误构造函数
func NewExtractionError(op, detail string, cause error) error {
	return &ProcessError{Op: op, BaseErr: ErrExtraction, Detail: detail, Cause: cause}
}

func NewDiscoveryParseError(detail string, cause error) error {
	return &ProcessError{Op: "discover", BaseErr: ErrDiscoveryParse, Detail: detail, Cause: cause}
}

func NewDiscoveryEmptyError() error {
	return &ProcessError{Op: "discover", BaseErr: ErrDiscoveryEmpty}
}

func NewTransportError(op string, cause error) error {
	return &ProcessError{Op: op, BaseErr: ErrTransport, Cause: cause}
}

func NewPlanValidationError(detail string) error {
	return &ProcessError{Op: "synthesize", BaseErr: ErrPlanValidation, Detail: detail}
}

// KindOf 返回错误分类，抽取错误优先于其内部的传输错误
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrDiscoveryParse):
		return KindDiscoveryParse
	case errors.Is(err, ErrDiscoveryEmpty):
		return KindDiscoveryEmpty
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrPlanValidation):
		return KindPlanValidation
	}
	return KindInternal
}

// Retryable 用户重试是否可能成功
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindExtraction, KindDiscoveryParse, KindTransport, KindPlanValidation:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
