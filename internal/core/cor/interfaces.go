// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor implements the chain-of-responsibility used to assemble the video
// pipelines.
//
// A Chain is an ordered list of Commands sharing one Context. Each Command reads
// its primary input from the Context under its input key, writes its primary
// output under its output key, and reports failures with AddError. The chain
// moves the value written to CtxOut into CtxIn before the next command runs, so
// simple pipelines need no explicit key wiring. Every chain and command run is
// traced with an OpenTelemetry span and counted with success and error counters.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CtxIn is the default input key. The chain fills it with the previous command's CtxOut.
	CtxIn = "__IN__"
	// CtxOut is the default output key.
	CtxOut = "__OUT__"
)

// Context is the shared state passed along a chain.
type Context interface {
	// SetContext replaces the Go context carried by this chain context. The
	// chain swaps it for each command so command spans nest correctly.
	SetContext(ctx context.Context)
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value interface{}) Context
	Get(key string) interface{}
	Remove(key string)

	// AddError records a failure, keyed by the name of the command that failed.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool
	// Err joins every recorded error into one, or returns nil.
	Err() error

	// AddTempFile registers a path to be removed by Close.
	AddTempFile(file string)
	GetTempFiles() []string
	// Close removes registered temporary files.
	Close()
}

// Executable is anything that can run against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is a single named step of a chain.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable is the precondition the chain checks before Execute. A
	// command that is not executable is skipped and its span marked as failed.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command made of other Commands.
type Chain interface {
	Command

	// ContinueOnFailure makes the chain run the remaining commands after an error.
	ContinueOnFailure(bool) Chain
	AddCommand(command Command) Chain
}
