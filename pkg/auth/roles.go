package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RoleProvider resolves an actor id to its role. Unknown actors resolve to
// the empty role, which can never approve anything.
type RoleProvider interface {
	RoleOf(ctx context.Context, actorID string) (string, error)
}

// RoleFunc adapts a function to RoleProvider.
type RoleFunc func(ctx context.Context, actorID string) (string, error)

func (f RoleFunc) RoleOf(ctx context.Context, actorID string) (string, error) {
	return f(ctx, actorID)
}

// StaticRoleDirectory is an in-memory actor to role table.
type StaticRoleDirectory struct {
	mu    sync.RWMutex
	roles map[string]string
}

func NewStaticRoleDirectory(roles map[string]string) *StaticRoleDirectory {
	d := &StaticRoleDirectory{roles: make(map[string]string, len(roles))}
	for actor, role := range roles {
		d.roles[actor] = strings.TrimSpace(role)
	}
	return d
}

type roleFile struct {
	Actors map[string]string `yaml:"actors"`
}

// LoadRoleDirectory reads a YAML file of the form
//
//	actors:
//	  alice: it
//	  erin: change-manager
func LoadRoleDirectory(path string) (*StaticRoleDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file %s: %w", path, err)
	}
	var f roleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}
	return NewStaticRoleDirectory(f.Actors), nil
}

func (d *StaticRoleDirectory) RoleOf(_ context.Context, actorID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roles[actorID], nil
}

// Set assigns a role to an actor.
func (d *StaticRoleDirectory) Set(actorID, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[actorID] = role
}
