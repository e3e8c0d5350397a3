// Package config handles importer configuration loading and management.
package config

// Config holds all importer settings.
type Config struct {
	Importer ImporterConfig `yaml:"importer"`
	Textures TexturesConfig `yaml:"textures"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ImporterConfig holds model and animation decode settings.
type ImporterConfig struct {
	Scale            float32  `yaml:"scale"`
	FlipWinding      bool     `yaml:"flip_winding"`
	SkipVariants     []string `yaml:"skip_variants"` // mesh name substrings to skip
	LoadDependencies bool     `yaml:"load_dependencies"`
}

// TexturesConfig holds texture resolution settings.
type TexturesConfig struct {
	ConverterPath string `yaml:"converter_path"` // GNF to DDS conversion tool
	Dir           string `yaml:"dir"`            // explicit texture directory, overrides path mapping
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Importer: ImporterConfig{
			Scale:            1.0,
			FlipWinding:      true,
			SkipVariants:     []string{"_fresnel", "_fur"},
			LoadDependencies: true,
		},
		Textures: TexturesConfig{
			ConverterPath: "",
			Dir:           "",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
