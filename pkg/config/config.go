// Package config loads a node's deployment configuration from an ini
// file: which CAN backend to use, its channel, the node's identity seed,
// and the inbound queue's bounds. Ground: the teacher parses its EDS
// object-dictionary files with gopkg.in/ini.v1 (od_parser.go); this
// repurposes the same library for a much smaller deployment file rather
// than an object dictionary.
package config

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/ini.v1"
)

// Config is a node's deployment configuration.
type Config struct {
	// Interface is the registered pkg/can backend name ("virtual",
	// "socketcan", "brutella").
	Interface string
	// Channel is the backend-specific channel identifier (e.g. "can0",
	// "localhost:18000").
	Channel string
	// Identity is this node's 6-byte MAC/chip identifier, hex-encoded in
	// the file (e.g. "AABBCCDDEEFF").
	Identity [6]byte

	// MaxQueuedPackets and MaxQueuedBytes bound the inbound PacketQueue
	// (spec.md §5 "Resources": 32 packets / 16 KiB by default).
	MaxQueuedPackets int
	MaxQueuedBytes   int
}

const (
	defaultMaxQueuedPackets = 32
	defaultMaxQueuedBytes   = 16 * 1024
)

// Load reads and validates a deployment config from path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return fromFile(f)
}

// LoadRaw reads a deployment config from an in-memory ini document, for
// tests that would rather not touch the filesystem.
func LoadRaw(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return fromFile(f)
}

func fromFile(f *ini.File) (*Config, error) {
	node := f.Section("node")
	queue := f.Section("queue")

	c := &Config{
		Interface:        node.Key("interface").MustString("virtual"),
		Channel:          node.Key("channel").String(),
		MaxQueuedPackets: queue.Key("max_packets").MustInt(defaultMaxQueuedPackets),
		MaxQueuedBytes:   queue.Key("max_bytes").MustInt(defaultMaxQueuedBytes),
	}

	identityHex := node.Key("identity").String()
	raw, err := hex.DecodeString(identityHex)
	if err != nil || len(raw) != 6 {
		return nil, fmt.Errorf("config: [node] identity must be 12 hex chars (6 bytes), got %q", identityHex)
	}
	copy(c.Identity[:], raw)

	if c.Channel == "" {
		return nil, fmt.Errorf("config: [node] channel is required")
	}
	return c, nil
}
