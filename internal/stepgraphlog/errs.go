// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stepgraphlog holds error types and logging helpers shared across
// the engine. It's named this way, rather than "errors" or "errs", to avoid
// colliding with the stdlib "errors" package in files that need both.
package stepgraphlog

import (
	"errors"
	"fmt"
)

// ConfigurationError is returned for malformed configuration: duplicate step
// names, invalid VERSION characters, invalid cache_results values,
// cache_results=true on an uncacheable step, an unknown step class, a failed
// kwarg validation rule, or an unresolved cycle/missing reference after the
// resolver's fixpoint loop converges. Step return types are not checked.
type ConfigurationError struct {
	Msg     string
	Wrapped error
}

func (e *ConfigurationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Wrapped.Error())
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Wrapped }

func (e *ConfigurationError) Is(other error) bool {
	_, ok := other.(*ConfigurationError)
	return ok
}

// NewConfigurationError builds a ConfigurationError from a format string.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// WrapConfigurationError builds a ConfigurationError that wraps an
// underlying cause.
func WrapConfigurationError(wrapped error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...), Wrapped: wrapped}
}

// MissingStepError is raised transiently while the resolver is parsing a
// step whose params reference a not-yet-resolved step name. The resolver
// catches this and defers the step; it must never escape a fully-converged
// resolution.
type MissingStepError struct {
	Ref string
}

func (e *MissingStepError) Error() string {
	return fmt.Sprintf("reference to step %q, which is not yet resolved", e.Ref)
}

func (e *MissingStepError) Is(other error) bool {
	_, ok := other.(*MissingStepError)
	return ok
}

// CacheWriteCollisionError is returned when a directory cache's put() finds
// an existing metadata.json at the target fingerprint.
type CacheWriteCollisionError struct {
	Fingerprint string
}

func (e *CacheWriteCollisionError) Error() string {
	return fmt.Sprintf("metadata.json already exists for step %s; will not overwrite", e.Fingerprint)
}

func (e *CacheWriteCollisionError) Is(other error) bool {
	_, ok := other.(*CacheWriteCollisionError)
	return ok
}

// RunReentrancyError is returned when a Step's run (Step.runInScratch) is
// invoked while already active on the same instance.
type RunReentrancyError struct {
	StepName string
}

func (e *RunReentrancyError) Error() string {
	return fmt.Sprintf("step %q: only one run at a time", e.StepName)
}

func (e *RunReentrancyError) Is(other error) bool {
	_, ok := other.(*RunReentrancyError)
	return ok
}

// CacheMissError signals that StepCache.Get was called for a fingerprint
// that isn't present. Callers use it to tell a miss apart from other Get
// failures; Contains() checks for presence directly and does not use it.
type CacheMissError struct {
	Fingerprint string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("no cached result for step %s", e.Fingerprint)
}

func (e *CacheMissError) Is(other error) bool {
	_, ok := other.(*CacheMissError)
	return ok
}

// IsCacheMiss reports whether err is (or wraps) a CacheMissError.
func IsCacheMiss(err error) bool {
	var miss *CacheMissError
	return errors.As(err, &miss)
}
