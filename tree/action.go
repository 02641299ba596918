package tree

import (
	"context"
	"io"

	"github.com/wippyai/disposetree"
)

// Action is invoked on every node of a subtree being disposed.
type Action interface {
	// Before runs before any child of obj is disposed.
	Before(obj any) error

	// Execute runs after all children of obj were disposed.
	Execute(ctx context.Context, obj any) error
}

// DefaultAction dispatches on the interfaces an object implements.
//
// Before calls disposetree.PrepareDisposer, falling back to
// disposetree.BeforeDisposer. Execute calls, in order of
// preference, disposetree.Disposable, disposetree.ContextCloser, io.Closer or
// a plain Dispose() method. Objects implementing none of them are bookkeeping
// only.
type DefaultAction struct{}

func (DefaultAction) Before(obj any) error {
	switch v := obj.(type) {
	case disposetree.PrepareDisposer:
		return v.PrepareDispose()
	case disposetree.BeforeDisposer:
		v.BeforeDispose()
	}
	return nil
}

func (DefaultAction) Execute(ctx context.Context, obj any) error {
	switch v := obj.(type) {
	case disposetree.Disposable:
		return v.Dispose()
	case disposetree.ContextCloser:
		return v.Close(ctx)
	case io.Closer:
		return v.Close()
	case interface{ Dispose() }:
		v.Dispose()
	}
	return nil
}

// ActionFuncs builds an Action from functions; nil fields are skipped.
type ActionFuncs struct {
	BeforeFunc  func(obj any) error
	ExecuteFunc func(ctx context.Context, obj any) error
}

func (a ActionFuncs) Before(obj any) error {
	if a.BeforeFunc == nil {
		return nil
	}
	return a.BeforeFunc(obj)
}

func (a ActionFuncs) Execute(ctx context.Context, obj any) error {
	if a.ExecuteFunc == nil {
		return nil
	}
	return a.ExecuteFunc(ctx, obj)
}
