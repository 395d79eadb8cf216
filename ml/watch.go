package ml

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads models when their files change in the models directory. A
// changed label file rebuilds every loaded context. It blocks until ctx is
// done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.opts.Dir); err != nil {
		return err
	}
	labelsDir := filepath.Dir(r.opts.LabelsPath)
	if r.opts.LabelsPath != "" && filepath.Clean(labelsDir) != filepath.Clean(r.opts.Dir) {
		if err := watcher.Add(labelsDir); err != nil {
			return err
		}
	}
	r.logger.Info("watching models", zap.String("dir", r.opts.Dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			r.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if r.opts.LabelsPath != "" && filepath.Clean(event.Name) == filepath.Clean(r.opts.LabelsPath) {
		if err := r.ReloadLabels(); err != nil {
			r.logger.Error("reload labels", zap.Error(err))
		}
		return
	}
	if filepath.Dir(filepath.Clean(event.Name)) != filepath.Clean(r.opts.Dir) {
		return
	}
	if _, ok := KindForPath(event.Name); !ok {
		return
	}
	name := modelName(filepath.Base(event.Name))
	if !r.loaded(name) {
		return
	}
	if err := r.Reload(name); err != nil {
		r.logger.Error("reload model", zap.String("model", name), zap.Error(err))
	}
}

func (r *Registry) loaded(name string) bool {
	if mc := r.active.Load(); mc != nil && mc.Name == name {
		return true
	}
	return r.contexts.Contains(name)
}
