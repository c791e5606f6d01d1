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

package cor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appendCommand struct {
	cor.BaseCommand
	suffix string
	fail   error
	ran    *[]string
}

func newAppend(name, suffix string, ran *[]string) *appendCommand {
	return &appendCommand{BaseCommand: *cor.NewBaseCommand(name), suffix: suffix, ran: ran}
}

func (c *appendCommand) Execute(context cor.Context) {
	*c.ran = append(*c.ran, c.GetName())
	if c.fail != nil {
		c.Fail(context, c.fail)
		return
	}
	in := context.Get(c.GetInputParam()).(string)
	c.Complete(context, in+c.suffix)
}

func TestChainPipesOutputToInput(t *testing.T) {
	var ran []string
	chain := cor.NewBaseChain("pipe")
	chain.AddCommand(newAppend("a", "-a", &ran))
	chain.AddCommand(newAppend("b", "-b", &ran))

	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, "start")
	chain.Execute(chCtx)

	require.NoError(t, chCtx.Err())
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, "start-a-b", chCtx.Get(cor.CtxIn))
	assert.Nil(t, chCtx.Get(cor.CtxOut))
}

func TestChainStopsOnFailure(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	failing := newAppend("b", "-b", &ran)
	failing.fail = boom

	chain := cor.NewBaseChain("stop")
	chain.AddCommand(newAppend("a", "-a", &ran))
	chain.AddCommand(failing)
	chain.AddCommand(newAppend("c", "-c", &ran))

	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, "start")
	chain.Execute(chCtx)

	assert.Equal(t, []string{"a", "b"}, ran)
	assert.ErrorIs(t, chCtx.Err(), boom)
	assert.Contains(t, chCtx.GetErrors(), "b")
}

func TestChainContinueOnFailure(t *testing.T) {
	var ran []string
	failing := newAppend("a", "-a", &ran)
	failing.fail = errors.New("boom")

	chain := cor.NewBaseChain("continue")
	chain.ContinueOnFailure(true)
	chain.AddCommand(failing)
	chain.AddCommand(newAppend("b", "-b", &ran))

	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, "start")
	chain.Execute(chCtx)

	// b has no input because a produced nothing, so it is reported as not executable.
	assert.Equal(t, []string{"a"}, ran)
	assert.Len(t, chCtx.GetErrors(), 2)
}

func TestContextCloseRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	chCtx := cor.NewBaseContext()
	chCtx.AddTempFile(path)
	chCtx.AddTempFile(filepath.Join(dir, "never-created"))
	chCtx.Close()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
