// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package debug

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// StartTime holds the time that the server started.
var StartTime = time.Now().UTC()

// A Check is a named health check of one part of the service.
type Check struct {
	// Key identifies the check in the status response.
	Key string

	// Name holds a human readable name for the check.
	Name string

	// Run performs the check. The returned string is reported as the
	// value of a passing check.
	Run func(ctx context.Context) (string, error)
}

// A Result holds the outcome of a Check.
type Result struct {
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
}

// RunChecks runs all the given checks concurrently and returns their
// results keyed by Check.Key. A check that has not finished within the
// given timeout fails.
func RunChecks(ctx context.Context, timeout time.Duration, checks []Check) map[string]Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]Result, len(checks))
	var wg sync.WaitGroup
	for _, chk := range checks {
		chk := chk
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := runCheck(ctx, chk)
			mu.Lock()
			defer mu.Unlock()
			results[chk.Key] = r
		}()
	}
	wg.Wait()
	return results
}

func runCheck(ctx context.Context, chk Check) Result {
	type outcome struct {
		value string
		err   error
	}
	start := time.Now()
	c := make(chan outcome, 1)
	go func() {
		v, err := chk.Run(ctx)
		c <- outcome{v, err}
	}()
	r := Result{Name: chk.Name}
	select {
	case o := <-c:
		if o.err != nil {
			r.Value = o.err.Error()
		} else {
			r.Value = o.value
			r.Passed = true
		}
	case <-ctx.Done():
		r.Value = "timed out"
	}
	r.Duration = time.Since(start)
	return r
}

// serverStarted reports when the server started.
var serverStarted = Check{
	Key:  "server_started",
	Name: "Server started",
	Run: func(context.Context) (string, error) {
		return StartTime.String(), nil
	},
}

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git-commit,omitempty"`
	GoVersion string `json:"go-version"`
}

// BuildInfo returns the Info recorded in the running binary.
func BuildInfo() Info {
	info := Info{
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Version = bi.Main.Version
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			info.GitCommit = s.Value
		}
	}
	return info
}
