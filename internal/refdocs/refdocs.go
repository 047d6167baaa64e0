// Package refdocs implements the Reference Docs Loader (spec component
// 4.E), grounded 1:1 on original_source/docs.py: a stack→filename map
// selects reference markdown, always-include files are merged in, and a
// character budget truncates or omits the tail.
package refdocs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const maxDocsChars = 30000

// stackDocs maps a service's stack tag to the reference documents relevant
// to it, grounded verbatim on docs.py's STACK_DOCS.
var stackDocs = map[string][]string{
	"laravel": {"railway.md", "laravel.md", "postgres.md", "redis.md"},
	"php":     {"railway.md", "laravel.md", "postgres.md"},
	"node":    {"railway.md", "node.md"},
	"nextjs":  {"railway.md", "node.md"},
	"nuxt":    {"railway.md", "node.md", "vue-vite-tailwind.md"},
	"python":  {"railway.md", "python.md"},
	"django":  {"railway.md", "python.md", "postgres.md"},
	"postgres": {"railway.md", "postgres.md"},
	"redis":   {"railway.md", "redis.md"},
	"unknown": {"railway.md"},
}

var alwaysInclude = []string{"platform.md", "incidents.md"}

// Loader reads reference documents from a directory on disk on every call,
// so a hand-edited platform.md takes effect without a restart. An fsnotify
// watch on the directory only logs changes; it does not cache or reload.
type Loader struct {
	dir     string
	watcher *fsnotify.Watcher
}

// New builds a Loader rooted at dir and best-effort starts an fsnotify
// watch on it (a failure to watch is logged, not fatal — the loader still
// reads fresh from disk on every call).
func New(dir string) *Loader {
	l := &Loader{dir: dir}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("refdocs: could not start fsnotify watcher, falling back to direct reads")
		return l
	}
	if err := w.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("refdocs: could not watch docs directory")
		w.Close()
		return l
	}
	l.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				log.Debug().Str("event", ev.String()).Msg("refdocs: docs directory changed")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("refdocs: watcher error")
			}
		}
	}()

	return l
}

// Close stops the fsnotify watcher, if one was started.
func (l *Loader) Close() {
	if l.watcher != nil {
		l.watcher.Close()
	}
}

// GetRelevantDocs loads the reference documents relevant to stack/serviceType,
// plus any extraTopics the model asked about, and returns them formatted
// for injection into the investigation's system prompt.
func (l *Loader) GetRelevantDocs(stack, serviceType string, extraTopics []string) string {
	files := map[string]bool{}
	docs, ok := stackDocs[stack]
	if !ok {
		docs = stackDocs["unknown"]
	}
	for _, d := range docs {
		files[d] = true
	}

	switch serviceType {
	case "database":
		files["postgres.md"] = true
	case "cache", "cache-and-queue":
		files["redis.md"] = true
	case "worker", "queue-worker":
		files["redis.md"] = true
	}

	for _, topic := range extraTopics {
		candidate := strings.ToLower(strings.ReplaceAll(topic, " ", "-")) + ".md"
		if _, err := os.Stat(filepath.Join(l.dir, candidate)); err == nil {
			files[candidate] = true
		}
	}

	for _, f := range alwaysInclude {
		files[f] = true
	}

	names := make([]string, 0, len(files))
	for f := range files {
		names = append(names, f)
	}
	sort.Strings(names)

	var sections []string
	total := 0
	for _, name := range names {
		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}

		if total+len(content) > maxDocsChars {
			remaining := maxDocsChars - total
			if remaining > 500 {
				content = content[:remaining] + "\n\n[... truncated for context length ...]"
			} else {
				break
			}
		}

		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", name, content))
		total += len(content)
	}

	if len(sections) == 0 {
		return ""
	}
	return "REFERENCE DOCUMENTATION (use for diagnosis):\n\n" + strings.Join(sections, "\n\n")
}

// DocInfo describes one available reference document.
type DocInfo struct {
	File   string  `json:"file"`
	SizeKB float64 `json:"size_kb"`
}

// ListAvailable lists every .md file in the docs directory with its size.
func (l *Loader) ListAvailable() []DocInfo {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}

	var out []DocInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DocInfo{File: e.Name(), SizeKB: roundKB(info.Size())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

func roundKB(bytes int64) float64 {
	kb := float64(bytes) / 1024
	return float64(int(kb*10+0.5)) / 10
}

// AddIncidentLearning appends a resolved-incident summary to incidents.md so
// the next investigation for a similar stack sees the prior resolution.
func (l *Loader) AddIncidentLearning(service, stack, errorSummary, resolution, insight string) error {
	path := filepath.Join(l.dir, "incidents.md")

	entry := fmt.Sprintf("\n### %s (%s)\n**Error:** %s\n**Resolution:** %s\n**Key insight:** %s\n\n---\n",
		service, stack, errorSummary, resolution, insight)

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating docs dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening incidents.md: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("writing incidents.md: %w", err)
	}
	return nil
}
