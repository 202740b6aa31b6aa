package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// untilModified returns a context canceled when path is written, created, removed or renamed.
func untilModified(ctx context.Context, path string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		cancel(err)
		return nil, nil, err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				cancel(fmt.Errorf("%s is updated (%s)", event.Name, event.Op.String()))
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(err)
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}

// Watch reloads the registry whenever its file changes, until ctx is done.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	for {
		wctx, stop, err := untilModified(ctx, r.cfg.Path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("Failed to watch provider registry", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(debounce):
				continue
			}
		}

		<-wctx.Done()
		cause := context.Cause(wctx)
		stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// editors often write a file in several steps
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(debounce):
		}

		if err := r.Reload(); err != nil {
			r.logger.Error("Failed to reload provider registry",
				slog.Any("error", err),
				slog.Any("trigger", cause),
			)
			continue
		}
		r.logger.Info("Provider registry reloaded", slog.Any("trigger", cause))
	}
}
