package tlsutil

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads certificate pairs when their files change on disk, so
// renewed certificates are picked up without a restart. Runs until the
// context is cancelled.
func (s *CertStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	byDir := make(map[string][]*certEntry)
	for _, e := range s.entries {
		for _, f := range []string{e.certFile, e.keyFile} {
			dir := filepath.Dir(f)
			byDir[dir] = append(byDir[dir], e)
		}
	}
	// watch directories, not files: renewals typically replace the file
	// and a file watch dies with the old inode
	for dir := range byDir {
		if err := w.Add(dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			for _, e := range s.entries {
				if ev.Name != e.certFile && ev.Name != e.keyFile {
					continue
				}
				if err := e.load(); err != nil {
					log.Printf("tls reload %s: %v", ev.Name, err)
				} else {
					log.Printf("tls reloaded %s", e.certFile)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("tls watcher: %v", err)
		}
	}
}
