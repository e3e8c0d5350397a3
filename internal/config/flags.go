package config

import "flag"

var (
	flagConfig    = flag.String("config", "", "Path to config file")
	flagDebug     = flag.Bool("debug", false, "Enable debug logging")
	flagScale     = flag.Float64("scale", 0, "Global import scale")
	flagConverter = flag.String("converter", "", "Path to the GNF to DDS conversion tool")
	flagTextures  = flag.String("textures", "", "Explicit texture directory")
	flagNoDeps    = flag.Bool("no-deps", false, "Skip loading dependency containers")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagScale > 0 {
		cfg.Importer.Scale = float32(*flagScale)
	}
	if *flagConverter != "" {
		cfg.Textures.ConverterPath = *flagConverter
	}
	if *flagTextures != "" {
		cfg.Textures.Dir = *flagTextures
	}
	if *flagNoDeps {
		cfg.Importer.LoadDependencies = false
	}
}
