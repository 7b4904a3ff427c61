// Package bridge contains the public contract between an application, the
// command/event bridge, and the vendor messaging SDK adapter.
package bridge

import "fmt"

// Method names a command the application can issue.
type Method string

const (
	MethodInitialize          Method = "initialize"
	MethodShowConversation    Method = "showConversation"
	MethodHideConversation    Method = "hideConversation"
	MethodDismissConversation Method = "dismissConversation"
	MethodSetUserProfile      Method = "setUserProfile"
	MethodRegisterPushToken   Method = "registerPushToken"
	MethodUnregisterPushToken Method = "unregisterPushToken"
	MethodGetUnreadCount      Method = "getUnreadCount"
	MethodSetDebugLogging     Method = "setDebugLogging"
	MethodLogout              Method = "logout"
	MethodReset               Method = "reset"
)

// Command is one inbound request. A nil Arguments map means the caller sent
// no arguments at all, which is distinct from an empty map.
type Command struct {
	Method    Method
	Arguments map[string]any
}

// Failure codes surfaced to the application.
const (
	CodeInvalidArgs          = "invalid_args"
	CodeNoContext            = "no_context"
	CodeNotInitialized       = "not_initialized"
	CodeNoActivity           = "no_activity"
	CodeNoRootVC             = "no_root_vc"
	CodeInitFailed           = "init_failed"
	CodeNativeError          = "native_error"
	CodePushRegisterFailed   = "push_register_failed"
	CodePushUnregisterFailed = "push_unregister_failed"
	CodeUnreadCountFailed    = "unread_count_failed"
)

// Failure is the error half of a command result.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func NewFailure(code, message string) *Failure {
	return &Failure{Code: code, Message: message}
}

func (f *Failure) Error() string {
	if f.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Code, f.Message, f.Details)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// ResultKind distinguishes "done", "failed" and "not supported".
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultFailure
	ResultNotImplemented
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "error"
	case ResultNotImplemented:
		return "not_implemented"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a command. Exactly one is produced per command.
type Result struct {
	Kind    ResultKind
	Value   any
	Failure *Failure
}

func Success(value any) Result {
	return Result{Kind: ResultSuccess, Value: value}
}

func Fail(f *Failure) Result {
	return Result{Kind: ResultFailure, Failure: f}
}

func Failed(code, message string) Result {
	return Fail(NewFailure(code, message))
}

func NotImplemented() Result {
	return Result{Kind: ResultNotImplemented}
}

// Code returns the failure code, or "" for non-failures.
func (r Result) Code() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Code
}
