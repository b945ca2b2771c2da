// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSupervise(t *testing.T) {
	t.Run("stage-failure-cancels-monitor", func(t *testing.T) {
		mon := &monitor{freq: time.Hour}
		err := supervise(context.Background(), func(ctx context.Context) error {
			return errors.New("boom")
		}, mon, "nope.raw")
		if err == nil || err.Error() != "boom" {
			t.Fatalf("invalid error: got=%+v, want=boom", err)
		}
	})

	t.Run("ctx-cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		mon := &monitor{freq: time.Hour}
		err := supervise(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}, mon, "nope.raw")
		if err != nil {
			t.Fatalf("could not supervise: %+v", err)
		}
	})
}
