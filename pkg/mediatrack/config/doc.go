/*
Package config provides typed access to loosely typed maps and the settings
that tune the tracking core.

# Typed Access

Tracker configuration arrives inside event payloads as map[string]any.
Config wraps such a map and returns defaults for missing keys or values of
the wrong type:

	cfg := config.New(data.Map("config"))
	offline := cfg.Bool("downloadedContent", false)

# Settings

Settings holds queue sizes, correlation TTLs, the offline database path and
the dispatch retry policy. Load it from YAML or JSON:

	settings, err := config.LoadSettings("mediatrack.yaml")
	if err != nil {
	    log.Fatal(err)
	}

Missing keys keep the values from DefaultSettings.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
