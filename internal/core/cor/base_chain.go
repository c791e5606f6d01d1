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

package cor

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BaseChain runs its commands in order. By default it stops at the first
// command that records an error; the data written by the commands that already
// completed stays in the context and in whatever stores they wrote to.
type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
}

// NewBaseChain is the constructor for BaseChain. The chain stops at the first
// failing command unless ContinueOnFailure is set.
//
// Inputs:
//   - name: The string name for this chain.
//
// Outputs:
//   - *BaseChain: An empty chain, ready for AddCommand.
func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

// AddCommand appends a step. Steps run in the order they were added.
//
// Inputs:
//   - command: The command to append.
//
// Outputs:
//   - Chain: The chain itself, for call chaining.
func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// Commands returns the configured steps in execution order.
func (c *BaseChain) Commands() []Command {
	return c.commands
}

func (c *BaseChain) IsExecutable(context Context) bool {
	return context != nil && context.GetContext() != nil
}

func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()
	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()
	// Restore the caller's Go context once the chain is done.
	defer chCtx.SetContext(parentCtx)

	for i, command := range c.commands {
		if chCtx.HasErrors() && !c.continueOnFailure {
			chainSpan.AddEvent("chain stopped", skippedAttrs(command.GetName(), i)...)
			break
		}

		commandCtx, commandSpan := c.Tracer.Start(outerCtx, command.GetName())
		commandSpan.SetAttributes(attribute.Int("step", i))

		if command.IsExecutable(chCtx) {
			// Each command sees its own span as the active span; resetting
			// afterwards keeps sibling commands as siblings in the trace.
			chCtx.SetContext(commandCtx)
			command.Execute(chCtx)
			chCtx.SetContext(outerCtx)
		} else {
			slog.WarnContext(outerCtx, "command not executable", "chain", c.GetName(), "command", command.GetName())
			commandSpan.SetStatus(codes.Error, fmt.Sprintf("command not executable: %s", command.GetName()))
			chCtx.AddError(command.GetName(), fmt.Errorf("command %s is not executable", command.GetName()))
		}

		if err, failed := chCtx.GetErrors()[command.GetName()]; failed {
			commandSpan.RecordError(err)
			commandSpan.SetStatus(codes.Error, err.Error())
			slog.ErrorContext(outerCtx, "command failed", "chain", c.GetName(), "command", command.GetName(), "error", err)
		} else {
			commandSpan.SetStatus(codes.Ok, "")
		}
		commandSpan.End()

		// Pipe this command's output into the next command's input.
		outputValue := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if outputValue != nil {
			chCtx.Add(CtxIn, outputValue)
		}
		chCtx.Remove(CtxOut)
	}

	if chCtx.HasErrors() {
		chainSpan.SetStatus(codes.Error, "chain failed")
		if c.ErrorCounter != nil {
			c.ErrorCounter.Add(outerCtx, 1)
		}
		return
	}
	chainSpan.SetStatus(codes.Ok, "")
	if c.SuccessCounter != nil {
		c.SuccessCounter.Add(outerCtx, 1)
	}
}

func skippedAttrs(next string, step int) []trace.EventOption {
	return []trace.EventOption{trace.WithAttributes(attribute.String("skipped", next), attribute.Int("step", step))}
}
