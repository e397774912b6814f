// Package patcherr defines the error-kind taxonomy: a central registry
// of named, described error codes, minus any HTTP-status-code concern
// (this core has no HTTP surface of its own).
package patcherr

import (
	"errors"
	"fmt"
)

// Code identifies one row of the error taxonomy table.
type Code int

// Descriptor documents one registered Code.
type Descriptor struct {
	Code        Code
	Value       string
	Message     string
	Description string
}

var (
	descriptorsByCode  = map[Code]Descriptor{}
	descriptorsByValue = map[string]Descriptor{}
	nextCode           = 1
)

func register(value, message, description string) Code {
	code := Code(nextCode)
	nextCode++
	d := Descriptor{Code: code, Value: value, Message: message, Description: description}
	descriptorsByCode[code] = d
	descriptorsByValue[value] = d
	return code
}

// The registered error codes, in table order.
var (
	ErrorCodeFileNotFound = register(
		"FILE_NOT_FOUND",
		"patch target file not found",
		"A patch's target file is absent under the resolved package directory. Package apply fails; other packages continue.",
	)
	ErrorCodeHashMismatch = register(
		"HASH_MISMATCH",
		"file content does not match the expected hash",
		"The current file hash equals neither beforeHash nor afterHash. User modified the file, or the wrong variant was tried.",
	)
	ErrorCodeBlobMissing = register(
		"BLOB_MISSING",
		"required blob not found",
		"A required after- or before-hash blob is absent from the store and could not be fetched (or offline mode forbade fetching).",
	)
	ErrorCodePostWriteHashMismatch = register(
		"POST_WRITE_HASH_MISMATCH",
		"written file does not hash to the expected value",
		"Re-hashing a just-written file produced a different hash than expected. Fatal: signals a filesystem fault.",
	)
	ErrorCodeManifestCorrupt = register(
		"MANIFEST_CORRUPT",
		"manifest top-level document is not valid JSON",
		"The manifest file failed even a best-effort per-record parse. Recovery yields an empty manifest plus this event.",
	)
	ErrorCodeRecordInvalid = register(
		"RECORD_INVALID",
		"patch record failed schema validation",
		"An individual PatchRecord failed schema validation. A refetch is attempted; otherwise the record is discarded.",
	)
	ErrorCodeIdentifierNotFound = register(
		"IDENTIFIER_NOT_FOUND",
		"no patch found for the given identifier",
		"A PURL or UUID selector matched no manifest entry.",
	)
	ErrorCodeVariantExhausted = register(
		"VARIANT_EXHAUSTED",
		"no matching PyPI qualifier variant",
		"Every qualified variant sharing a base PURL was tried and none matched the file on disk.",
	)
	ErrorCodeEcosystemRootMissing = register(
		"ECOSYSTEM_ROOT_MISSING",
		"no search roots discovered for ecosystem",
		"No package roots were found for a requested ecosystem. That ecosystem reports no packages found; other ecosystems proceed.",
	)
	ErrorCodeUnsafePath = register(
		"UNSAFE_PATH",
		"resolved file path escapes the package root",
		"The file path to write resolves (after symlink evaluation) outside the crawled package directory. Refused as a defense against symlink-based escape.",
	)
)

// Descriptor looks up the Descriptor for a Code.
func (c Code) Descriptor() Descriptor {
	return descriptorsByCode[c]
}

func (c Code) String() string {
	return descriptorsByCode[c].Value
}

// Error is the concrete error type returned across the engine's
// operations: a Code plus a human-readable detail and, where
// applicable, a wrapped cause.
type Error struct {
	Code   Code
	Detail string
	Cause  error
}

// New constructs an *Error with a formatted detail message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that also carries the triggering cause,
// retrievable via errors.Unwrap/errors.Is/errors.As.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	d := e.Code.Descriptor()
	if e.Detail == "" {
		return d.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", d.Message, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", d.Message, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, target) report true when target is an *Error
// with the same Code, whatever its detail or cause, so no sentinel error
// per code is needed.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and reports false otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
