// Package config loads the device table: which panel model backs each
// display and how the secure framebuffer for it is laid out.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/confirmationui/internal/device"
	"github.com/danmuck/confirmationui/internal/render"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidDeviceTable = errors.New("config: invalid device table")

type DeviceTableConfig struct {
	Displays []DisplayEntry        `toml:"displays"`
	Models   map[string]ModelEntry `toml:"models"`
}

// DisplayEntry is one physical display, in index order.
type DisplayEntry struct {
	Model string `toml:"model"`
	// Rotation in degrees: 0, 90, 180 or 270.
	Rotation    int    `toml:"rotation"`
	LinePadding uint32 `toml:"line_padding"`
}

// ModelEntry adds or overrides a panel model on top of the built-in ones.
type ModelEntry struct {
	WidthPx             uint32  `toml:"width_px"`
	HeightPx            uint32  `toml:"height_px"`
	PxPerMM             float64 `toml:"px_per_mm"`
	PxPerDP             float64 `toml:"px_per_dp"`
	PowerButtonTopMM    float64 `toml:"power_button_top_mm"`
	PowerButtonBottomMM float64 `toml:"power_button_bottom_mm"`
	VolUpButtonTopMM    float64 `toml:"volup_button_top_mm"`
	VolUpButtonBottomMM float64 `toml:"volup_button_bottom_mm"`
}

// DefaultDeviceTable is a single unrotated emulator display.
func DefaultDeviceTable() DeviceTableConfig {
	return DeviceTableConfig{Displays: []DisplayEntry{{Model: "emulator"}}}
}

func LoadDeviceTable(path string) (DeviceTableConfig, error) {
	var cfg DeviceTableConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceTableConfig{}, err
	}
	if len(cfg.Displays) == 0 {
		cfg.Displays = DefaultDeviceTable().Displays
	}
	for i := range cfg.Displays {
		cfg.Displays[i].Model = strings.TrimSpace(cfg.Displays[i].Model)
	}
	if err := ValidateDeviceTable(cfg); err != nil {
		return DeviceTableConfig{}, err
	}
	return cfg, nil
}

// loadToml rejects keys that do not map onto the target struct.
func loadToml(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceTable(cfg DeviceTableConfig) error {
	if len(cfg.Displays) == 0 {
		return fmt.Errorf("%w: no displays", ErrInvalidDeviceTable)
	}
	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: model with empty name", ErrInvalidDeviceTable)
		}
		if err := cfg.Models[name].Geometry().Validate(); err != nil {
			return fmt.Errorf("%w: model %q: %w", ErrInvalidDeviceTable, name, err)
		}
	}
	models := Geometries(cfg)
	for i, d := range cfg.Displays {
		if d.Model == "" {
			return fmt.Errorf("%w: display[%d] missing model", ErrInvalidDeviceTable, i)
		}
		if _, ok := models[d.Model]; !ok {
			return fmt.Errorf("%w: display[%d]: %w: %q", ErrInvalidDeviceTable, i, device.ErrUnknownModel, d.Model)
		}
		if _, err := render.RotationFromDegrees(d.Rotation); err != nil {
			return fmt.Errorf("%w: display[%d]: %w", ErrInvalidDeviceTable, i, err)
		}
	}
	return nil
}
