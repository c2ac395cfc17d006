package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if _, err := chunkSize(cfg.Cache); err != nil {
		return err
	}

	names := make(map[string]bool)
	keys := make(map[string]bool)
	for i, m := range cfg.Mounts {
		if m.Name != "" {
			if strings.ContainsAny(m.Name, ":/") {
				return fmt.Errorf("mounts[%d]: name %q must not contain ':' or '/'", i, m.Name)
			}
			if names[m.Name] {
				return fmt.Errorf("mounts[%d]: duplicate mount name %q", i, m.Name)
			}
			names[m.Name] = true
		}

		key := mountKey(i, m)
		if keys[key] {
			return fmt.Errorf("mounts[%d]: %s is already mounted by an earlier entry", i, key)
		}
		keys[key] = true

		switch m.Type {
		case "native", "s3", "http":
			if m.URL == "" {
				return fmt.Errorf("mounts[%d]: %s mounts require a url", i, m.Type)
			}
		case "zip":
			if m.URL == "" && m.Options["parts"] == nil {
				return fmt.Errorf("mounts[%d]: zip mounts require a url or options.parts", i)
			}
		case "memory":
			if m.URL != "" {
				return fmt.Errorf("mounts[%d]: memory mounts take no url", i)
			}
		}
		if m.Timeout < 0 {
			return fmt.Errorf("mounts[%d]: timeout must not be negative", i)
		}
	}

	return nil
}

// chunkSize parses the configured cache chunk size.
func chunkSize(cfg CacheConfig) (int, error) {
	n, err := humanize.ParseBytes(cfg.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("cache.chunk_size: %w", err)
	}
	if n < 4096 || n > 64<<20 {
		return 0, fmt.Errorf("cache.chunk_size: %s is outside 4KiB..64MiB", humanize.IBytes(n))
	}
	return int(n), nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
