// Package repository is the code registry: it keeps installed contract
// implementations under monotonically assigned code identifiers.
package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/govm-net/multitest/core"
)

// CodeInfo describes a stored code entry
type CodeInfo struct {
	CodeID   uint64    `json:"code_id"`
	Creator  core.Addr `json:"creator"`
	Checksum string    `json:"checksum"` // hex sha256 of creator, code id and implementation type
}

// Code is a stored implementation plus its metadata
type Code struct {
	CodeInfo
	Contract core.Contract
}

// Manager stores contract implementations
type Manager struct {
	mu     sync.RWMutex
	codes  map[uint64]*Code
	lastID uint64
}

// NewManager creates an empty code registry
func NewManager() *Manager {
	return &Manager{
		codes: make(map[uint64]*Code),
	}
}

// StoreCode registers an implementation and returns its new code id
func (m *Manager) StoreCode(creator core.Addr, contract core.Contract) (uint64, error) {
	if contract == nil {
		return 0, fmt.Errorf("%w: nil contract implementation", core.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	id := m.lastID
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%d/%T", creator, id, contract)))
	m.codes[id] = &Code{
		CodeInfo: CodeInfo{
			CodeID:   id,
			Creator:  creator,
			Checksum: hex.EncodeToString(hash[:]),
		},
		Contract: contract,
	}
	slog.Debug("code stored", "code_id", id, "creator", creator, "type", fmt.Sprintf("%T", contract))
	return id, nil
}

// Lookup returns the code stored under codeID
func (m *Manager) Lookup(codeID uint64) (*Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.codes[codeID]
	if !ok {
		return nil, fmt.Errorf("%w: code id %d", core.ErrUnknownCode, codeID)
	}
	return code, nil
}

// Codes lists all stored code entries in id order
func (m *Manager) Codes() []CodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CodeInfo, 0, len(m.codes))
	for _, c := range m.codes {
		out = append(out, c.CodeInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodeID < out[j].CodeID })
	return out
}
