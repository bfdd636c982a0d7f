// Package prompts holds the pipeline role table and each role's system prompt.
package prompts

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/strata/internal/errors"
)

//go:embed roles.yaml prompts/*.md
var bundled embed.FS

// Role is one model call within a turn.
type Role struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Prompt    string   `yaml:"prompt" json:"prompt"`
	Stream    bool     `yaml:"stream" json:"stream"`
	Format    string   `yaml:"format" json:"format,omitempty"`
	Output    string   `yaml:"output" json:"output,omitempty"`
	Variables []string `yaml:"variables" json:"variables"`
}

type roleTable struct {
	Roles []Role `yaml:"roles"`
}

// Registry resolves role ids and caches prompt text. Prompts are read from
// the override directory when present there, else from the bundled files.
type Registry struct {
	roles  map[string]Role
	order  []string
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewRegistry parses the bundled role table. dir may be empty.
func NewRegistry(dir string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := bundled.ReadFile("roles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read role table: %w", err)
	}
	roles, order, err := parseRoles(data)
	if err != nil {
		return nil, err
	}

	return &Registry{
		roles:  roles,
		order:  order,
		dir:    dir,
		logger: logger,
		cache:  make(map[string]string),
	}, nil
}

func parseRoles(data []byte) (map[string]Role, []string, error) {
	var table roleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, nil, fmt.Errorf("parse role table: %w", err)
	}

	roles := make(map[string]Role, len(table.Roles))
	order := make([]string, 0, len(table.Roles))
	streaming := 0
	for _, r := range table.Roles {
		if r.ID == "" || r.Prompt == "" {
			return nil, nil, fmt.Errorf("role table: id and prompt are required")
		}
		if _, dup := roles[r.ID]; dup {
			return nil, nil, fmt.Errorf("role table: duplicate role %q", r.ID)
		}
		if r.Stream {
			streaming++
		}
		roles[r.ID] = r
		order = append(order, r.ID)
	}
	if streaming != 1 {
		return nil, nil, fmt.Errorf("role table: exactly one streaming role required, found %d", streaming)
	}
	return roles, order, nil
}

// Role returns the role with id.
func (r *Registry) Role(id string) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, errors.NewInvalidLLM(id, "unknown role")
	}
	return role, nil
}

// Roles returns every role in table order.
func (r *Registry) Roles() []Role {
	out := make([]Role, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.roles[id])
	}
	return out
}

// StreamingRole returns the role delivered token by token.
func (r *Registry) StreamingRole() Role {
	for _, id := range r.order {
		if r.roles[id].Stream {
			return r.roles[id]
		}
	}
	return Role{}
}

// Prompt returns the system prompt of a role. A missing prompt file yields a
// short fallback rather than an error.
func (r *Registry) Prompt(id string) (string, error) {
	role, err := r.Role(id)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	text, ok := r.cache[role.Prompt]
	r.mu.RUnlock()
	if ok {
		return text, nil
	}

	text = r.load(role)
	r.mu.Lock()
	r.cache[role.Prompt] = text
	r.mu.Unlock()
	return text, nil
}

func (r *Registry) load(role Role) string {
	if r.dir != "" {
		data, err := os.ReadFile(filepath.Join(r.dir, role.Prompt))
		if err == nil {
			return strings.TrimSpace(string(data))
		}
		if !os.IsNotExist(err) {
			r.logger.Warn("prompt override unreadable", zap.String("file", role.Prompt), zap.Error(err))
		}
	}

	data, err := bundled.ReadFile(path.Join("prompts", role.Prompt))
	if err == nil {
		return strings.TrimSpace(string(data))
	}

	r.logger.Warn("prompt file missing, using fallback", zap.String("role", role.ID), zap.String("file", role.Prompt))
	return fallback(role)
}

func fallback(role Role) string {
	name := role.Name
	if name == "" {
		name = role.ID
	}
	return fmt.Sprintf("You are the %s stage of a conversational pipeline. Use the context sections provided and respond to the final section.", name)
}

// Invalidate drops the cached text of a prompt file.
func (r *Registry) Invalidate(file string) {
	r.mu.Lock()
	delete(r.cache, file)
	r.mu.Unlock()
}

// Watch evicts cached prompts when files in the override directory change.
// It returns once the watcher is running; the watcher stops with ctx.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				file := filepath.Base(event.Name)
				r.Invalidate(file)
				r.logger.Debug("prompt file changed", zap.String("file", file), zap.Stringer("op", event.Op))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("prompt watch error", zap.Error(err))
			}
		}
	}()
	return nil
}
