// Package health implements the single external health check from spec
// §6: a State Store set/get roundtrip of a probe key, bounded by a 5
// second timeout.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"aegis/internal/statestore"
)

const probeTimeout = 5 * time.Second

// Status is the JSON payload the health endpoint returns.
type Status struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
}

// Checker performs the State Store roundtrip health check.
type Checker struct {
	Store statestore.Store
}

// Check writes a probe value to a timestamped key and reads it back,
// returning Connected=false with a message on any failure or timeout.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	key := "aegis:health:" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	probe := []byte("ok")

	done := make(chan Status, 1)
	go func() {
		c.Store.Set(ctx, key, probe, time.Minute)
		val, ok := c.Store.Get(ctx, key)
		if !ok || string(val) != "ok" {
			done <- Status{Connected: false, Message: "state store roundtrip failed"}
			return
		}
		done <- Status{Connected: true}
	}()

	select {
	case status := <-done:
		return status
	case <-ctx.Done():
		return Status{Connected: false, Message: "state store roundtrip timed out"}
	}
}

// Handler serves the health check over HTTP: 200 with the status payload
// when connected, 503 otherwise.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if status.Connected {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"connected":%t,"message":%q}`, status.Connected, status.Message)
	}
}
