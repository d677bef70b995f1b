package config

import (
	"maps"
	"slices"

	"github.com/danmuck/confirmationui/internal/device"
	"github.com/danmuck/confirmationui/internal/render"
	"github.com/danmuck/confirmationui/internal/secfb"
)

func (e ModelEntry) Geometry() device.Geometry {
	return device.Geometry{
		WidthPx:             e.WidthPx,
		HeightPx:            e.HeightPx,
		PxPerMM:             e.PxPerMM,
		PxPerDP:             e.PxPerDP,
		PowerButtonTopMM:    e.PowerButtonTopMM,
		PowerButtonBottomMM: e.PowerButtonBottomMM,
		VolUpButtonTopMM:    e.VolUpButtonTopMM,
		VolUpButtonBottomMM: e.VolUpButtonBottomMM,
	}
}

// Geometries returns the built-in models overlaid with the configured ones.
func Geometries(cfg DeviceTableConfig) map[string]device.Geometry {
	out := device.BuiltinGeometries()
	for name, m := range cfg.Models {
		out[name] = m.Geometry()
	}
	return out
}

func DeviceTable(cfg DeviceTableConfig, factory device.LayoutFactory) (*device.Table, error) {
	names := make([]string, len(cfg.Displays))
	for i, d := range cfg.Displays {
		names[i] = d.Model
	}
	return device.NewTable(names, Geometries(cfg), factory)
}

// FramebufferConfigs sizes one emulated framebuffer per display. Quarter-turn
// rotations swap the physical width and height of the panel.
func FramebufferConfigs(cfg DeviceTableConfig, snapshotDir string) ([]secfb.DisplayConfig, error) {
	models := Geometries(cfg)
	out := make([]secfb.DisplayConfig, 0, len(cfg.Displays))
	for _, d := range cfg.Displays {
		rot, err := render.RotationFromDegrees(d.Rotation)
		if err != nil {
			return nil, err
		}
		g := models[d.Model]
		w, h := g.WidthPx, g.HeightPx
		if rot == render.Rotation90 || rot == render.Rotation270 {
			w, h = h, w
		}
		out = append(out, secfb.DisplayConfig{
			Width:       w,
			Height:      h,
			Rotation:    rot,
			LinePadding: d.LinePadding,
			Format:      render.PixelFormatRGBA8,
			SnapshotDir: snapshotDir,
		})
	}
	return out, nil
}

// ModelNames lists every model the table can refer to.
func ModelNames(cfg DeviceTableConfig) []string {
	return slices.Sorted(maps.Keys(Geometries(cfg)))
}
