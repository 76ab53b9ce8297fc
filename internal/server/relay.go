// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/unilife360/internal/llm"
	"github.com/jeranaias/unilife360/internal/metrics"
	"github.com/jeranaias/unilife360/internal/registry"
	"github.com/jeranaias/unilife360/internal/util"
)

// relay writes provider fragments to the client as they arrive. Headers are
// committed on the first non-empty fragment, so a provider that fails before
// producing anything can still be answered with a JSON error.
type relay struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	task  registry.Task
	m     metrics.Metrics
	start time.Time

	started   bool
	fragments int
	bytes     int64
	writeErr  error
}

func newRelay(w http.ResponseWriter, task registry.Task, m metrics.Metrics) *relay {
	return &relay{
		w:     w,
		rc:    http.NewResponseController(w),
		task:  task,
		m:     m,
		start: time.Now(),
	}
}

func (rl *relay) commit() {
	if rl.started {
		return
	}
	h := rl.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	rl.w.WriteHeader(http.StatusOK)
	rl.started = true
}

// write is the llm.FragmentFunc handed to the provider.
func (rl *relay) write(fragment string) error {
	if fragment == "" {
		return nil
	}
	if !rl.started {
		rl.commit()
		rl.m.ObserveFirstFragment(string(rl.task), time.Since(rl.start).Seconds())
	}

	n, err := io.WriteString(rl.w, fragment)
	rl.bytes += int64(n)
	if err == nil {
		err = rl.rc.Flush()
	}
	if err != nil {
		rl.writeErr = err
		return err
	}
	rl.fragments++
	return nil
}

// stream runs one streaming exchange for task and relays it to w.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, task registry.Task, system string, messages []llm.Message) {
	reqID := RequestIDFromContext(r.Context())

	h, err := s.registry.Lookup(task)
	if err != nil {
		log.Printf("CONFIGURATION_FAILURE | id=%s task=%s error=%v", reqID, task, err)
		s.metrics.ObserveStream(string(task), "none", metrics.OutcomeConfigFailure, 0)
		writeError(w, http.StatusInternalServerError, errTypeConfiguration, "The service is not configured for this task")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	rl := newRelay(w, task, s.metrics)
	log.Printf("STREAM_START | id=%s task=%s provider=%s model=%s messages=%d system_chars=%d",
		reqID, task, h.Provider, h.Model, len(messages), len(system))

	var usage llm.Usage
	err = h.Stream(llm.WithUsage(ctx, &usage), system, messages, rl.write)
	elapsed := time.Since(rl.start)
	s.metrics.AddFragments(string(task), rl.fragments)

	switch {
	case err == nil:
		rl.commit()
		log.Printf("STREAM_DONE | id=%s task=%s fragments=%d bytes=%d duration=%.3fs%s",
			reqID, task, rl.fragments, rl.bytes, elapsed.Seconds(), usage.LogFields())
		s.metrics.ObserveStream(string(task), h.Provider, metrics.OutcomeOK, elapsed.Seconds())

	case rl.writeErr != nil || (r.Context().Err() != nil && ctx.Err() != context.DeadlineExceeded):
		log.Printf("STREAM_CLIENT_GONE | id=%s task=%s fragments=%d duration=%.3fs error=%v",
			reqID, task, rl.fragments, elapsed.Seconds(), err)
		s.metrics.ObserveStream(string(task), h.Provider, metrics.OutcomeClientGone, elapsed.Seconds())

	case !rl.started:
		status, message := providerFailure(ctx, err)
		log.Printf("PROVIDER_FAILURE | id=%s task=%s provider=%s model=%s status=%d duration=%.3fs error=%s",
			reqID, task, h.Provider, h.Model, status, elapsed.Seconds(), util.ClipForLog(err))
		s.metrics.ObserveStream(string(task), h.Provider, metrics.OutcomeProviderFailure, elapsed.Seconds())
		writeError(w, status, errTypeProvider, message)

	default:
		log.Printf("STREAM_ABORTED | id=%s task=%s provider=%s fragments=%d bytes=%d duration=%.3fs error=%s",
			reqID, task, h.Provider, rl.fragments, rl.bytes, elapsed.Seconds(), util.ClipForLog(err))
		s.metrics.ObserveStream(string(task), h.Provider, metrics.OutcomeAborted, elapsed.Seconds())
		panic(http.ErrAbortHandler)
	}
}
