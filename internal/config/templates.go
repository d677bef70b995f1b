package config

import (
	"fmt"
	"os"
)

func Template() string {
	return deviceTableTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(deviceTableTemplate), 0o600)
}

const deviceTableTemplate = `# Displays are listed in index order.
[[displays]]
model = "emulator"
rotation = 0
line_padding = 0

[[displays]]
model = "bench"
rotation = 90
line_padding = 64

# Extra panel models. Built-in: blueline, crosshatch, emulator.
[models.bench]
width_px = 720
height_px = 1280
px_per_mm = 12.0
px_per_dp = 2.0
power_button_top_mm = 20.0
power_button_bottom_mm = 30.0
volup_button_top_mm = 40.0
volup_button_bottom_mm = 50.0
`
