// Package directory provides an in-memory tenant Directory for tests and
// examples. Production deployments back the Directory interface with their
// own persistence layer.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/edukit/speechgate"
)

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu         sync.RWMutex
	classrooms map[string]speechgate.Classroom
	schools    map[string]speechgate.School
	orgs       map[string]speechgate.OrgRecord
}

var _ speechgate.Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		classrooms: make(map[string]speechgate.Classroom),
		schools:    make(map[string]speechgate.School),
		orgs:       make(map[string]speechgate.OrgRecord),
	}
}

// AddClassroom registers a classroom record.
func (d *MemoryDirectory) AddClassroom(c speechgate.Classroom) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classrooms[c.ID] = c
}

// AddSchool registers a school record.
func (d *MemoryDirectory) AddSchool(s speechgate.School) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schools[s.ID] = s
}

// AddOrganization registers an organization record.
func (d *MemoryDirectory) AddOrganization(o speechgate.OrgRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs[o.ID] = o
}

func (d *MemoryDirectory) Classroom(_ context.Context, id string) (speechgate.Classroom, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.classrooms[id]
	if !ok {
		return speechgate.Classroom{}, fmt.Errorf("directory: classroom %q not found", id)
	}
	return c, nil
}

func (d *MemoryDirectory) School(_ context.Context, id string) (speechgate.School, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schools[id]
	if !ok {
		return speechgate.School{}, fmt.Errorf("directory: school %q not found", id)
	}
	return s, nil
}

func (d *MemoryDirectory) Organization(_ context.Context, id string) (speechgate.OrgRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.orgs[id]
	if !ok {
		return speechgate.OrgRecord{}, fmt.Errorf("directory: organization %q not found", id)
	}
	return o, nil
}
