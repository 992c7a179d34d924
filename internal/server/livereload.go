package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/hotreload"
)

// liveReloadHandler holds an event stream open and writes one "reload"
// message per change event. Every stream has its own subscription, so
// all connected tabs see every change. The stream ends when the client
// goes away, a write fails, or the server shuts down.
func (s *Server) liveReloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc := http.NewResponseController(w)

	sub := s.manager.Subscribe()
	defer sub.Close()

	logger := s.logger.With(
		zap.String("stream", sub.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	header := w.Header()
	header.Set(constants.HeaderContentType, constants.ContentTypeEventStream)
	header.Set(constants.HeaderCacheControl, "no-cache")
	header.Set(constants.HeaderConnection, "keep-alive")
	header.Set(constants.HeaderXAccelBuffering, "no")
	w.WriteHeader(http.StatusOK)

	if err := writeFrame(w, rc, fmt.Sprintf("retry: %d\n\n", s.config.LiveReload.Retry.Milliseconds())); err != nil {
		logger.Debug("Live reload stream failed before first event", zap.Error(err))
		return
	}

	s.openStreams.Add(1)
	s.metrics.StreamOpened()
	defer func() {
		s.openStreams.Add(-1)
		s.metrics.StreamClosed()
	}()
	logger.Debug("Live reload stream opened")

	// Next blocks, so it runs on its own goroutine and hands events to
	// the loop below, which also has to service the keep-alive ticker.
	events := make(chan hotreload.Event)
	done := make(chan error, 1)
	go func() {
		for {
			event, err := sub.Next(ctx)
			if err != nil {
				done <- err
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
	}()

	ticks, stopTicker := s.newTicker(s.config.LiveReload.KeepAlive)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Live reload stream closed by client", zap.Int("undelivered", sub.Pending()))
			return

		case err := <-done:
			if errors.Is(err, hotreload.ErrSubscriptionClosed) {
				logger.Debug("Live reload stream closed by server")
			}
			return

		case event := <-events:
			frame := "id: " + strconv.FormatUint(event.Seq, 10) + "\ndata: " + constants.LiveReloadEvent + "\n\n"
			if err := writeFrame(w, rc, frame); err != nil {
				logger.Debug("Live reload write failed", zap.Error(err))
				return
			}
			logger.Debug("Sent reload", zap.Uint64("seq", event.Seq), zap.String("file", event.Path))

		case <-ticks:
			if err := writeFrame(w, rc, ": keep-alive\n\n"); err != nil {
				logger.Debug("Live reload keep-alive failed", zap.Error(err))
				return
			}
			s.metrics.RecordKeepAlive()
		}
	}
}

func writeFrame(w io.Writer, rc *http.ResponseController, frame string) error {
	if _, err := io.WriteString(w, frame); err != nil {
		return err
	}
	return rc.Flush()
}

// OpenStreams returns the number of connected live reload clients.
func (s *Server) OpenStreams() int64 {
	return s.openStreams.Load()
}
