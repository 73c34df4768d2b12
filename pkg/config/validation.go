package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittobundle/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then rules that span several fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if err := validateSource(&cfg.Source); err != nil {
		return err
	}
	if err := validateManifest(cfg); err != nil {
		return err
	}
	for _, pt := range cfg.Telemetry.Profiling.ProfileTypes {
		if !telemetry.ValidProfileType(pt) {
			return fmt.Errorf("telemetry.profiling.profile_types: unknown profile type %q", pt)
		}
	}
	return nil
}

func validateSource(cfg *SourceConfig) error {
	switch cfg.Type {
	case "fs":
		if cfg.FS.Root == "" {
			return errors.New("source.fs.root is required for an fs source")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return errors.New("source.s3.bucket is required for an s3 source")
		}
		if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
			return errors.New("source.s3: access_key_id and secret_access_key must be set together")
		}
	}
	return nil
}

func validateManifest(cfg *Config) error {
	if cfg.Manifest.Watch && cfg.Manifest.Path == "" {
		return errors.New("manifest.watch needs a local manifest.path")
	}
	if cfg.Manifest.CacheDir != "" && !cfg.IsRemote() {
		return errors.New("manifest.cache_dir only applies to a remote manifest")
	}
	return nil
}

// formatValidationErrors turns validator errors into one readable error.
// Each line names the field and the failed tag, e.g.
// "Config.Logging.Level: failed 'oneof' (value: LOUD)".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	lines := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		line := fmt.Sprintf("%s: failed '%s'", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			line += fmt.Sprintf(" (%s=%s)", fe.Tag(), fe.Param())
		}
		line += fmt.Sprintf(" (value: %v)", fe.Value())
		lines = append(lines, line)
	}
	return errors.New(strings.Join(lines, "; "))
}
