package persistence

import (
	"context"
	"sync"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
)

// Memory stores back handler tests and DB-less development, mirroring the pg
// stores' observable behavior.

type MemoryGrantStore struct {
	mu     sync.Mutex
	grants map[memGrantKey]types.AccessGrant
}

type memGrantKey struct {
	tenantID    string
	subjectType types.SubjectType
	subjectID   string
	userID      string
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: map[memGrantKey]types.AccessGrant{}}
}

func (s *MemoryGrantStore) Create(_ context.Context, g types.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[memGrantKey{g.TenantID, g.SubjectType, g.SubjectID, g.UserID}] = g
	return nil
}

func (s *MemoryGrantStore) Delete(_ context.Context, tenantID string, subjectType types.SubjectType, subjectID string, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memGrantKey{tenantID, subjectType, subjectID, userID}
	if _, ok := s.grants[k]; !ok {
		return false, nil
	}
	delete(s.grants, k)
	return true, nil
}

func (s *MemoryGrantStore) DeleteForSubject(_ context.Context, tenantID string, subjectType types.SubjectType, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.grants {
		if k.tenantID == tenantID && k.subjectType == subjectType && k.subjectID == subjectID {
			delete(s.grants, k)
		}
	}
	return nil
}

func (s *MemoryGrantStore) ListBySubject(_ context.Context, tenantID string, subjectType types.SubjectType, subjectID string) ([]types.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AccessGrant
	for k, g := range s.grants {
		if k.tenantID == tenantID && k.subjectType == subjectType && k.subjectID == subjectID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryGrantStore) ListForActor(_ context.Context, tenantID string, userID string, subject types.Subject) ([]types.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AccessGrant
	if g, ok := s.grants[memGrantKey{tenantID, subject.Type, subject.ID, userID}]; ok {
		out = append(out, g)
	}
	if subject.Type == types.SubjectTask && subject.ProjectID != "" {
		if g, ok := s.grants[memGrantKey{tenantID, types.SubjectProject, subject.ProjectID, userID}]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryGrantStore) ListForUser(_ context.Context, tenantID string, userID string) ([]types.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AccessGrant
	for k, g := range s.grants {
		if k.tenantID == tenantID && k.userID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

type MemorySubjectStore struct {
	mu       sync.Mutex
	subjects map[memSubjectKey]types.Subject
}

type memSubjectKey struct {
	tenantID    string
	subjectType types.SubjectType
	subjectID   string
}

func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{subjects: map[memSubjectKey]types.Subject{}}
}

func (s *MemorySubjectStore) Put(subject types.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[memSubjectKey{subject.TenantID, subject.Type, subject.ID}] = subject
}

func (s *MemorySubjectStore) Remove(tenantID string, subjectType types.SubjectType, subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subjects, memSubjectKey{tenantID, subjectType, subjectID})
}

func (s *MemorySubjectStore) GetSubject(_ context.Context, tenantID string, subjectType types.SubjectType, subjectID string) (types.Subject, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.subjects[memSubjectKey{tenantID, subjectType, subjectID}]
	return v, ok, nil
}

func (s *MemorySubjectStore) ListPrivateSubjects(_ context.Context, tenantID string) ([]types.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Subject
	for k, v := range s.subjects {
		if k.tenantID == tenantID && v.Visibility == types.VisibilityPrivate {
			out = append(out, v)
		}
	}
	return out, nil
}
