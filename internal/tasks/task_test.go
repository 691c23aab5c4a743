// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

func TestChain_RunsInOrder(t *testing.T) {
	var order []string
	step := func(name string) Task {
		return NewTask(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	c := NewChain("test chain", step("one"), step("two"), step("three"))
	if err := c.Run(t.Context()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Join(order, ",") != "one,two,three" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestChain_AbortsOnFirstError(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	c := NewChain("test chain",
		NewTask("one", func(ctx context.Context) error {
			ran = append(ran, "one")
			return nil
		}),
		NewTask("two", func(ctx context.Context) error {
			ran = append(ran, "two")
			return boom
		}),
		NewTask("three", func(ctx context.Context) error {
			ran = append(ran, "three")
			return nil
		}),
	)
	err := c.Run(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "two") {
		t.Errorf("expected error to name the failing task, got %v", err)
	}
	if strings.Join(ran, ",") != "one,two" {
		t.Errorf("expected chain to abort after the failure, ran: %v", ran)
	}
}

func TestChain_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	ran := false
	c := NewChain("test chain", NewTask("one", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("expected no task to run after cancellation")
	}
}

func TestGroup_RunsAllBranchesDespiteFailures(t *testing.T) {
	var ran atomic.Int32
	boom := errors.New("boom")
	g := NewGroup("test group",
		NewTask("ok", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}),
		NewTask("bad", func(ctx context.Context) error {
			ran.Add(1)
			return boom
		}),
		NewTask("also ok", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}),
	)
	err := g.Run(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("expected all 3 branches to run, got %d", ran.Load())
	}
}

func TestGroup_JoinsAllErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	g := NewGroup("test group",
		NewTask("one", func(ctx context.Context) error { return first }),
		NewTask("two", func(ctx context.Context) error { return second }),
	)
	err := g.Run(t.Context())
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors joined, got %v", err)
	}
}
