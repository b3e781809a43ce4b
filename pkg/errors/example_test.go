// Package errors provides examples of structured error handling in ACE.
package errors_test

import (
	"fmt"
	"io"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// Example demonstrates basic error creation with context details.
func Example() {
	err := errors.New(errors.ErrorTypeMissingChunk, "chunk output not found").
		WithDetail("index", 2).
		WithDetail("path", "/tmp/out.chunk2.abd")

	fmt.Println(err.Error())

	// Output:
	// missing_chunk: chunk output not found
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeCorruptData, "failed to read header").
		WithDetail("path", "data.num")

	if errors.IsType(err, errors.ErrorTypeCorruptData) {
		fmt.Println("This is a corrupt data error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Original error was unexpected EOF")
	}

	// Output:
	// This is a corrupt data error
	// Original error was unexpected EOF
}

// ExampleIsRetryable shows that only transport failures are retried.
func ExampleIsRetryable() {
	missing := errors.New(errors.ErrorTypeMissingChunk, "chunk 3 missing")
	transport := errors.New(errors.ErrorTypeTransport, "connection reset")

	fmt.Println(errors.IsRetryable(missing))
	fmt.Println(errors.IsRetryable(transport))

	// Output:
	// false
	// true
}

// ExampleIsType demonstrates checking error types through wrapping.
func ExampleIsType() {
	ioErr := errors.New(errors.ErrorTypeIO, "permission denied")
	wrapped := errors.Wrap(ioErr, errors.ErrorTypeArgumentMismatch, "merge aborted")

	fmt.Printf("Is io error: %v\n", errors.IsType(ioErr, errors.ErrorTypeIO))
	fmt.Printf("Wrapped error is argument mismatch: %v\n", errors.IsType(wrapped, errors.ErrorTypeArgumentMismatch))
	fmt.Printf("Wrapped error type: %s\n", errors.TypeOf(wrapped))
	fmt.Println(wrapped)

	// Output:
	// Is io error: true
	// Wrapped error is argument mismatch: true
	// Wrapped error type: argument_mismatch
	// argument_mismatch: merge aborted: io: permission denied
}
