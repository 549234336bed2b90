// Package ipallocator hands out IPv4 addresses from dobbyd's container
// subnet and derives each container's companion IPv6 address.
//
// Allocation state is backed by a directory of one file per container
// (filename: container id, contents: "<ipv4-decimal>/<vethName>") so the
// daemon can rebuild its in-memory view after a restart without a database.
package ipallocator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/rs/zerolog"
)

// BridgeAddress is dobby0's own address on the container subnet
// (100.64.11.1), in host byte order.
const BridgeAddress uint32 = 100<<24 | 64<<16 | 11<<8 | 1

// PoolSize is the number of addresses available for allocation, starting
// immediately after BridgeAddress.
const PoolSize = 250

// ipv6Prefix is the fixed 2080:d0bb:1e::/64 prefix dobbyd derives
// container IPv6 addresses under; the low 4 bytes of the interface
// identifier carry the container's IPv4 address.
var ipv6Prefix = [8]byte{0x20, 0x80, 0xd0, 0xbb, 0x00, 0x1e, 0x00, 0x00}

// Allocator tracks which addresses in the pool are in use, persisting the
// allocation to disk so it survives a daemon restart.
type Allocator struct {
	mu     sync.Mutex
	dir    string
	logger zerolog.Logger
	inUse  map[uint32]types.ContainerId
}

// New creates an allocator backed by dir, scanning any existing allocation
// files to rebuild its in-memory view of what's in use.
func New(dir string) (*Allocator, error) {
	a := &Allocator{
		dir:    dir,
		logger: log.WithComponent("ipallocator"),
		inUse:  make(map[uint32]types.ContainerId),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create address store dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan address store dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := a.readNetworkInfo(entry.Name())
		if err != nil {
			a.logger.Warn().Err(err).Str("container_id", entry.Name()).Msg("dropping unreadable address file")
			continue
		}
		a.inUse[info.IPv4] = info.ContainerId
	}

	return a, nil
}

// Available reports how many addresses remain free in the pool, for the
// metrics collector.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return PoolSize - len(a.inUse)
}

// Allocate reserves the next free address in the pool for id and persists
// the allocation alongside the veth name that will carry it.
func (a *Allocator) Allocate(id types.ContainerId, vethName string) (types.NetworkInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var addr uint32
	for candidate := BridgeAddress + 1; candidate < BridgeAddress+1+PoolSize; candidate++ {
		if _, taken := a.inUse[candidate]; !taken {
			addr = candidate
			break
		}
	}
	if addr == 0 {
		return types.NetworkInfo{}, fmt.Errorf("ip address pool exhausted: cannot allocate for %s", id)
	}

	content := fmt.Sprintf("%d/%s", addr, vethName)
	path := filepath.Join(a.dir, string(id))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return types.NetworkInfo{}, fmt.Errorf("write address file for %s: %w", id, err)
	}

	a.inUse[addr] = id
	ipv6 := deriveIPv6(addr)

	a.logger.Debug().Str("container_id", string(id)).Str("ipv4", IPv4String(addr)).Msg("allocated container address")

	return types.NetworkInfo{
		ContainerId: id,
		VethName:    vethName,
		IPv4:        addr,
		IPv6:        &ipv6,
	}, nil
}

// Deallocate releases id's address back to the pool and removes its
// allocation file.
func (a *Allocator) Deallocate(id types.ContainerId) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.dir, string(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove address file for %s: %w", id, err)
	}

	for addr, owner := range a.inUse {
		if owner == id {
			delete(a.inUse, addr)
			break
		}
	}
	return nil
}

// Lookup returns the persisted network info for a container.
func (a *Allocator) Lookup(id types.ContainerId) (types.NetworkInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readNetworkInfo(string(id))
}

func (a *Allocator) readNetworkInfo(containerId string) (types.NetworkInfo, error) {
	path := filepath.Join(a.dir, containerId)
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.NetworkInfo{}, fmt.Errorf("read address file: %w", err)
	}

	content := string(raw)
	slash := strings.IndexByte(content, '/')
	if slash < 0 || slash == len(content)-1 {
		return types.NetworkInfo{}, fmt.Errorf("malformed address file %s", path)
	}

	addr64, err := strconv.ParseUint(content[:slash], 10, 32)
	if err != nil {
		return types.NetworkInfo{}, fmt.Errorf("malformed address in %s: %w", path, err)
	}
	addr := uint32(addr64)
	ipv6 := deriveIPv6(addr)

	return types.NetworkInfo{
		ContainerId: types.ContainerId(containerId),
		VethName:    content[slash+1:],
		IPv4:        addr,
		IPv6:        &ipv6,
	}, nil
}

// IPv4String renders a host-order IPv4 address in dotted-decimal form.
func IPv4String(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// deriveIPv6 packs a container's IPv4 address into the low 4 bytes of
// dobbyd's fixed 2080:d0bb:1e::/64 prefix.
func deriveIPv6(addr uint32) [16]byte {
	var out [16]byte
	copy(out[:8], ipv6Prefix[:])
	out[12] = byte(addr >> 24)
	out[13] = byte(addr >> 16)
	out[14] = byte(addr >> 8)
	out[15] = byte(addr)
	return out
}
