package canfd

import (
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// RxMode selects how the core stores received frames. It is fixed when the
// IP is synthesized.
type RxMode int

const (
	// RxSequential stores frames in arrival order in two RX FIFOs.
	RxSequential RxMode = iota
	// RxMailbox stores frames in ID/mask filtered buffers.
	RxMailbox
)

func (m RxMode) String() string {
	switch m {
	case RxSequential:
		return "sequential"
	case RxMailbox:
		return "mailbox"
	default:
		return fmt.Sprintf("RxMode(%d)", int(m))
	}
}

// UnmarshalYAML accepts "sequential" or "mailbox".
func (m *RxMode) UnmarshalYAML(n *yaml.Node) error {
	switch n.Value {
	case "sequential":
		*m = RxSequential
	case "mailbox":
		*m = RxMailbox
	default:
		return fmt.Errorf("canfd: unknown rx mode %q", n.Value)
	}
	return nil
}

// Config describes one controller instance.
type Config struct {
	DeviceID       uint16  `yaml:"deviceId"`
	Name           string  `yaml:"name"`
	BaseAddress    uintptr `yaml:"baseAddress"`
	RxMode         RxMode  `yaml:"rxMode"`
	NumRxMailboxes int     `yaml:"numRxMailboxes"`
	NumTxBuffers   int     `yaml:"numTxBuffers"`
}

// Validate checks the synthesis parameters.
func (c Config) Validate() error {
	if c.NumTxBuffers != NumTxBuffers {
		return fmt.Errorf("%w: %d tx buffers, want %d", ErrInvalidParam, c.NumTxBuffers, NumTxBuffers)
	}
	switch c.RxMode {
	case RxSequential:
	case RxMailbox:
		switch c.NumRxMailboxes {
		case 16, 32, 48:
		default:
			return fmt.Errorf("%w: %d rx mailboxes", ErrInvalidParam, c.NumRxMailboxes)
		}
	default:
		return fmt.Errorf("%w: rx mode %v", ErrInvalidParam, c.RxMode)
	}
	return nil
}

// RxBanks is the number of mailbox control status registers (RCS0-RCS2) in
// use.
func (c Config) RxBanks() int {
	return (c.NumRxMailboxes + mailboxBand - 1) / mailboxBand
}

// ConfigTable is a list of controller configurations, indexed by instance.
type ConfigTable []Config

//go:embed devices.yaml
var rawDevices []byte

var defaultTable ConfigTable

func init() {
	t, err := parseConfigTable(rawDevices)
	if err != nil {
		panic(err)
	}
	defaultTable = t
}

func parseConfigTable(raw []byte) (ConfigTable, error) {
	var doc struct {
		Devices ConfigTable `yaml:"devices"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("canfd: parse device table: %w", err)
	}
	for _, c := range doc.Devices {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("canfd: device %d: %w", c.DeviceID, err)
		}
	}
	return doc.Devices, nil
}

// LoadConfigTable reads a device table in the same YAML form as the built-in
// one.
func LoadConfigTable(r io.Reader) (ConfigTable, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseConfigTable(raw)
}

// Lookup returns the entry with the given device ID.
func (t ConfigTable) Lookup(deviceID uint16) (Config, error) {
	for _, c := range t {
		if c.DeviceID == deviceID {
			return c, nil
		}
	}
	return Config{}, fmt.Errorf("%w: id %d", ErrNoConfig, deviceID)
}

// Get returns the entry at the given instance index.
func (t ConfigTable) Get(index int) (Config, error) {
	if index < 0 || index >= len(t) {
		return Config{}, fmt.Errorf("%w: index %d", ErrNoConfig, index)
	}
	return t[index], nil
}

// LookupConfig returns the built-in configuration for a device ID.
func LookupConfig(deviceID uint16) (Config, error) { return defaultTable.Lookup(deviceID) }

// GetConfig returns the built-in configuration at an instance index.
func GetConfig(index int) (Config, error) { return defaultTable.Get(index) }
