// Package vpn stores downloaded OpenVPN profiles under ~/.htb_client/vpn/.
package vpn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/htbdesk/htb/internal/config"
)

const ext = ".ovpn"

// ProfileSource fetches the raw profile of a VPN server.
type ProfileSource interface {
	VPNProfile(ctx context.Context, serverID int) ([]byte, error)
}

// Profile is a stored profile file.
type Profile struct {
	ServerID int
	Path     string
	Size     int64
	ModTime  time.Time
}

// Manager handles profile download and storage
type Manager struct {
	dir string
	src ProfileSource
}

// NewManager creates a manager rooted at ~/.htb_client/vpn/
func NewManager(src ProfileSource) (*Manager, error) {
	base, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return NewManagerAt(filepath.Join(base, "vpn"), src)
}

// NewManagerAt creates a manager storing profiles in dir.
func NewManagerAt(dir string, src ProfileSource) (*Manager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vpn directory: %w", err)
	}
	return &Manager{dir: dir, src: src}, nil
}

// Dir returns the profile directory
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns where the profile of serverID is stored
func (m *Manager) Path(serverID int) string {
	return filepath.Join(m.dir, strconv.Itoa(serverID)+ext)
}

// Download fetches the profile of serverID and writes it to dest, or to
// Path(serverID) when dest is empty. It returns the written path.
func (m *Manager) Download(ctx context.Context, serverID int, dest string) (string, error) {
	if dest == "" {
		dest = m.Path(serverID)
	}

	data, err := m.src.VPNProfile(ctx, serverID)
	if err != nil {
		return "", fmt.Errorf("failed to download profile for server %d: %w", serverID, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("failed to download profile for server %d: empty file", serverID)
	}

	if err := writeFile(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// writeFile writes through a temp file and renames it into place.
func writeFile(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := dest + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize profile: %w", err)
	}
	return nil
}

// List returns stored profiles ordered by server id
func (m *Manager) List() ([]Profile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vpn directory: %w", err)
	}

	var profiles []Profile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		profiles = append(profiles, Profile{
			ServerID: id,
			Path:     filepath.Join(m.dir, name),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].ServerID < profiles[j].ServerID
	})
	return profiles, nil
}

// Clean removes all stored profiles
func (m *Manager) Clean() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to clean profiles: %w", err)
	}
	return os.MkdirAll(m.dir, 0700)
}
