// Package errors provides standardized error codes for the pager bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (device, request, voice, delivery, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by requesting agents for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that agents can rely on for error handling.
const (
	// Device domain - pager link and connectivity errors
	CodeDeviceDisconnected = "device.disconnected" // Command sent while link is down
	CodeDeviceDialFailed   = "device.dial_failed"  // WebSocket dial to pager failed
	CodeDeviceEncodeFailed = "device.encode_failed" // Failed to encode a wire frame
	CodeDeviceDecodeFailed = "device.decode_failed" // Failed to decode a wire frame
	CodeDeviceNotFound     = "device.not_found"     // Pager discovery found nothing

	// Request domain - pending request tracker errors
	CodeRequestTableFull    = "request.table_full"    // Tracker at capacity, submission rejected
	CodeRequestInvalid      = "request.invalid"       // Malformed submission (empty text, bad kind)
	CodeRequestNotFound     = "request.not_found"     // Request ID does not exist (or was evicted)
	CodeRequestNotQueued    = "request.not_queued"    // Withdraw targeted a non-queued request
	CodeRequestTimeout      = "request.timeout"       // Request expired before it was answered
	CodeRequestSuperseded   = "request.superseded"    // Request was preempted by an urgent one
	CodeRequestRateLimited  = "request.rate_limited"  // Too many submissions per second

	// Voice domain - capture pipeline errors
	CodeVoiceBusy             = "voice.busy"              // A recording session is already open
	CodeVoiceNoSession        = "voice.no_session"        // Frame or end with no open session
	CodeVoiceTranscribeFailed = "voice.transcribe_failed" // ASR call failed
	CodeVoiceTranscribeTimeout = "voice.transcribe_timeout" // ASR call exceeded its deadline
	CodeVoiceEmptyCapture     = "voice.empty_capture"     // Session ended with no audio buffered

	// Delivery domain - answer delivery errors
	CodeDeliveryFailed      = "delivery.failed"       // Callback unreachable after bounded retries
	CodeDeliveryUnsupported = "delivery.unsupported"  // Unknown delivery target variant

	// Server domain - agent HTTP API errors
	CodeServerInvalidBody = "server.invalid_body" // Malformed JSON body
	CodeServerNotFound    = "server.not_found"    // Unknown route or resource

	// Storage domain - audit log errors
	CodeStorageOpenFailed = "storage.open_failed" // Database open failed
	CodeStorageSaveFailed = "storage.save_failed" // Failed to save an audit entry

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal bridge error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "request.table_full")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to agent-facing responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// DeviceDisconnected creates a "device.disconnected" error.
// This is returned synchronously when a command is sent while the link is down.
// The caller must decide whether to queue or drop; the display state machine
// re-issues its target mode on reconnect, so dropping is usually safe.
func DeviceDisconnected(command string) *CodedError {
	return New(CodeDeviceDisconnected, fmt.Sprintf("pager link is down, %s command rejected", command))
}

// DeviceNotFound creates a "device.not_found" error.
func DeviceNotFound() *CodedError {
	return New(CodeDeviceNotFound, "no pager found (set pager_addr or enable mDNS discovery)")
}

// TableFull creates a "request.table_full" error.
// This indicates the tracker is at capacity and the submission was rejected.
func TableFull(capacity int) *CodedError {
	return New(CodeRequestTableFull, fmt.Sprintf("request table is full (%d entries)", capacity))
}

// InvalidRequest creates a "request.invalid" error.
func InvalidRequest(reason string) *CodedError {
	return New(CodeRequestInvalid, fmt.Sprintf("invalid request: %s", reason))
}

// RequestNotFound creates a "request.not_found" error.
// This indicates the request was not found (it may have expired and been evicted).
func RequestNotFound(id string) *CodedError {
	return New(CodeRequestNotFound, fmt.Sprintf("request %s not found (may have expired)", id))
}

// RequestNotQueued creates a "request.not_queued" error.
// Only queued (not yet active) requests can be withdrawn by their source.
func RequestNotQueued(id string) *CodedError {
	return New(CodeRequestNotQueued, fmt.Sprintf("request %s is not queued (only queued requests can be withdrawn)", id))
}

// RequestTimeout creates a "request.timeout" error.
// Permission requests that time out resolve to deny (fail-closed).
func RequestTimeout(id string) *CodedError {
	return New(CodeRequestTimeout, fmt.Sprintf("request %s timed out (permission defaults to deny)", id))
}

// VoiceBusy creates a "voice.busy" error.
func VoiceBusy() *CodedError {
	return New(CodeVoiceBusy, "a voice session is already recording")
}

// VoiceNoSession creates a "voice.no_session" error.
func VoiceNoSession() *CodedError {
	return New(CodeVoiceNoSession, "no voice session is open")
}

// TranscribeFailed creates a "voice.transcribe_failed" error.
// The original request (if any) stays active for a retry or button fallback.
func TranscribeFailed(cause error) *CodedError {
	return Wrap(CodeVoiceTranscribeFailed, "transcription failed", cause)
}

// TranscribeTimeout creates a "voice.transcribe_timeout" error.
func TranscribeTimeout() *CodedError {
	return New(CodeVoiceTranscribeTimeout, "transcription did not complete within deadline")
}

// EmptyCapture creates a "voice.empty_capture" error.
func EmptyCapture() *CodedError {
	return New(CodeVoiceEmptyCapture, "voice session ended with no audio captured")
}

// DeliveryFailed creates a "delivery.failed" error.
// The request stays resolved regardless; delivery is best-effort after
// bounded retries, never upgraded to guaranteed delivery.
func DeliveryFailed(id string, cause error) *CodedError {
	return Wrap(CodeDeliveryFailed, fmt.Sprintf("answer for request %s undelivered after retries", id), cause)
}

// DeliveryUnsupported creates a "delivery.unsupported" error.
func DeliveryUnsupported(variant string) *CodedError {
	return New(CodeDeliveryUnsupported, fmt.Sprintf("unsupported delivery target: %s", variant))
}

// InvalidBody creates a "server.invalid_body" error.
func InvalidBody(reason string) *CodedError {
	return New(CodeServerInvalidBody, reason)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
