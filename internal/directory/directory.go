// Package directory is the in-process registry of organizations and agents
// the daemon serves. It backs every AgentDirectory/OrgDirectory seam in the
// harness and manages worker pools for protected template agents.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/haasonsaas/crew/internal/workers"
	"github.com/haasonsaas/crew/pkg/models"
)

// Directory is a thread-safe org/agent registry.
type Directory struct {
	mu        sync.RWMutex
	orgs      map[string]*models.Organization
	agents    map[string]*models.Agent
	pools     map[string]*workers.Pool
	workerCfg workers.PoolConfig
}

// New creates an empty directory. Worker pools for protected templates use
// the given config.
func New(workerCfg workers.PoolConfig) *Directory {
	return &Directory{
		orgs:      map[string]*models.Organization{},
		agents:    map[string]*models.Agent{},
		pools:     map[string]*workers.Pool{},
		workerCfg: workerCfg,
	}
}

// Org implements the org lookup seam.
func (d *Directory) Org(_ context.Context, id string) (*models.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s not found", id)
	}
	return org, nil
}

// Agent implements the agent lookup seam.
func (d *Directory) Agent(_ context.Context, id string) (*models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	agent, ok := d.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	return agent, nil
}

// PutOrg adds or replaces an organization.
func (d *Directory) PutOrg(org *models.Organization) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs[org.ID] = org
}

// PutAgent adds or replaces an agent.
func (d *Directory) PutAgent(agent *models.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agent.ID] = agent
}

// Orgs lists organizations ordered by id.
func (d *Directory) Orgs() []*models.Organization {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Organization, 0, len(d.orgs))
	for _, org := range d.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Agents lists agents ordered by id.
func (d *Directory) Agents() []*models.Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Agent, 0, len(d.agents))
	for _, agent := range d.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AcquireWorker returns an ephemeral worker cloned from a protected
// template and registers it so session traffic can resolve it by id.
func (d *Directory) AcquireWorker(templateID string) (*models.Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	template, ok := d.agents[templateID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", templateID)
	}
	pool, ok := d.pools[templateID]
	if !ok {
		var err error
		pool, err = workers.NewPool(template, d.workerCfg)
		if err != nil {
			return nil, err
		}
		d.pools[templateID] = pool
	}
	worker := pool.Acquire()
	d.agents[worker.ID] = worker
	return worker, nil
}

// TouchWorker bumps a worker's last-used time.
func (d *Directory) TouchWorker(templateID, workerID string) {
	d.mu.RLock()
	pool, ok := d.pools[templateID]
	d.mu.RUnlock()
	if ok {
		pool.Touch(workerID)
	}
}

// EvictIdleWorkers retires idle workers across all pools and returns how
// many were evicted.
func (d *Directory) EvictIdleWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	evicted := 0
	for _, pool := range d.pools {
		evicted += pool.EvictIdle()
	}
	return evicted
}

// fleetFile is the on-disk bootstrap format.
type fleetFile struct {
	Organizations []*models.Organization `json:"organizations"`
	Agents        []*models.Agent        `json:"agents"`
}

// LoadFile seeds the directory from a JSON fleet file.
func (d *Directory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fleet file: %w", err)
	}
	var fleet fleetFile
	if err := json.Unmarshal(data, &fleet); err != nil {
		return fmt.Errorf("parse fleet file: %w", err)
	}
	for _, org := range fleet.Organizations {
		if org.ID == "" {
			return fmt.Errorf("fleet organization missing id")
		}
	}
	for _, agent := range fleet.Agents {
		if agent.ID == "" || agent.OrgID == "" {
			return fmt.Errorf("fleet agent missing id or org_id")
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, org := range fleet.Organizations {
		d.orgs[org.ID] = org
	}
	for _, agent := range fleet.Agents {
		d.agents[agent.ID] = agent
	}
	return nil
}
