// Package core holds the domain types shared across vault, instance,
// jeweler, floxy, provider and app — Instance, InstanceConfig, App,
// Deployment metadata, and their identifiers (spec §3).
package core

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
)

// InstanceID is a 32-bit identifier rendered as 8-char lower-hex (spec §3).
type InstanceID uint32

// String renders the ID as 8-char lower-hex.
func (id InstanceID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// ParseInstanceID parses an 8-char lower-hex InstanceID.
func ParseInstanceID(s string) (InstanceID, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("instance id %q: want 8 hex chars, got %d", s, len(s))
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("instance id %q: %w", s, err)
	}
	return InstanceID(v), nil
}

// NewInstanceID generates a random, nonzero InstanceID.
func NewInstanceID() InstanceID {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic(err)
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v != 0 {
			return InstanceID(v)
		}
	}
}

// DeploymentID identifies a Deployment adapter instance recorded in the
// Deployment pouch.
type DeploymentID string

// NetworkID identifies a container network.
type NetworkID string
