package backend

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Check reports whether a service is usable.
type Check func(ctx context.Context) error

// Checks names the services a process depends on.
type Checks map[string]Check

// Run runs every check concurrently and returns the failures by name.
func (c Checks) Run(ctx context.Context) map[string]error {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed = make(map[string]error)
	)
	for name, check := range c {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := check(ctx); err != nil {
				mu.Lock()
				failed[name] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failed
}

// Handler answers 200 when every check passes and 503 otherwise, with a
// JSON body listing each service.
func (c Checks) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failed := c.Run(ctx)
		status := make(map[string]string, len(c))
		for _, name := range slices.Sorted(maps.Keys(c)) {
			status[name] = "ok"
			if err, ok := failed[name]; ok {
				status[name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
