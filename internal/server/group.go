// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Service is a long-running component.
type Service interface {
	Name() string
	Run(context.Context) error
}

// Group runs services together. When one fails, or ctx ends, the rest are
// cancelled; Run returns once all have stopped.
type Group []Service

// Run starts every service and returns their combined errors.
func (g Group) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(g))
	wg.Add(len(g))
	for _, s := range g {
		go func(s Service) {
			defer wg.Done()
			if err := s.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("%s: %w", s.Name(), err)
				cancel()
			}
		}(s)
	}

	<-runCtx.Done()
	wg.Wait()
	close(errCh)

	var err error
	for srvErr := range errCh {
		err = multierror.Append(err, srvErr)
	}
	return err
}
