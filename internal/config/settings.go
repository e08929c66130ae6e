package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSettings marks a scale-down invocation whose settings are absent
// or malformed. The control loop reports it without touching the fleet.
var ErrInvalidSettings = errors.New("config: not all scale-down settings are set")

// creationLayout is the format of the decoded creation timestamp.
const creationLayout = "2006-01-02T15:04:05Z"

// Environment keys. Each setting also accepts a legacy alias.
const (
	EnvScaleSetID              = "SCALEDOWN_SCALE_SET_ID"
	EnvLookupTimeInMin         = "SCALEDOWN_LOOKUP_TIME_IN_MIN"
	EnvCPUThresholdPercent     = "SCALEDOWN_CPU_THRESHOLD_PERCENT"
	EnvDiskThresholdBytes      = "SCALEDOWN_DISK_THRESHOLD_BYTES"
	EnvMinNumNodes             = "SCALEDOWN_MIN_NUM_NODES"
	EnvTablePrefix             = "SCALEDOWN_TABLE_PREFIX"
	EnvStorageConnectionString = "SCALEDOWN_STORAGE_CONNECTION_STRING"
	EnvTimeOfCreation          = "SCALEDOWN_TIME_OF_CREATION"
	EnvStartupDelayInMin       = "SCALEDOWN_STARTUP_DELAY_IN_MIN"
)

var legacyEnv = map[string]string{
	EnvScaleSetID:              "ScaleSetId",
	EnvLookupTimeInMin:         "LookupTimeInMin",
	EnvCPUThresholdPercent:     "CPUTresholdInPercent",
	EnvDiskThresholdBytes:      "DiskTresholdBytes",
	EnvMinNumNodes:             "MinNumNodes",
	EnvTablePrefix:             "TablePrefix",
	EnvStorageConnectionString: "StorageAccountConnectionString",
	EnvTimeOfCreation:          "TimeOfCreation",
	EnvStartupDelayInMin:       "StartupDelayInMin",
}

// LookupFunc resolves an environment key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Settings is the validated configuration of one scale-down invocation.
type Settings struct {
	ScaleSetID     string
	LookbackWindow time.Duration

	// CPUThreshold is in percent; DiskThreshold in bytes per second.
	CPUThreshold  float64
	DiskThreshold float64

	MinNodes int

	TablePrefix             string
	StorageConnectionString string

	CreatedAt    time.Time
	StartupDelay time.Duration
}

// TooEarly reports whether the startup delay since creation has not yet elapsed.
func (s Settings) TooEarly(now time.Time) bool {
	return now.Before(s.CreatedAt.Add(s.StartupDelay))
}

// SettingsFromEnv loads settings from the process environment.
func SettingsFromEnv(requireTable bool) (Settings, error) {
	return LoadSettings(os.LookupEnv, requireTable)
}

// LoadSettings reads and validates invocation settings. On failure the
// returned Settings holds whatever parsed successfully and the error wraps
// ErrInvalidSettings with one entry per problem. Table settings are only
// required when the diagnostics-table metric store is in use.
func LoadSettings(lookup LookupFunc, requireTable bool) (Settings, error) {
	var (
		s    Settings
		errs []error
	)
	get := func(key string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v, ok := lookup(legacyEnv[key]); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	fail := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{key}, args...)...))
	}

	s.ScaleSetID = get(EnvScaleSetID)
	if s.ScaleSetID == "" {
		fail(EnvScaleSetID, "required")
	}

	if raw := get(EnvLookupTimeInMin); raw == "" {
		fail(EnvLookupTimeInMin, "required")
	} else if minutes, err := strconv.Atoi(raw); err != nil || minutes <= 0 {
		fail(EnvLookupTimeInMin, "must be a positive integer, got %q", raw)
	} else {
		s.LookbackWindow = time.Duration(minutes) * time.Minute
	}

	s.CPUThreshold = parsePositiveFloat(get(EnvCPUThresholdPercent), EnvCPUThresholdPercent, fail)
	s.DiskThreshold = parsePositiveFloat(get(EnvDiskThresholdBytes), EnvDiskThresholdBytes, fail)

	if raw := get(EnvMinNumNodes); raw == "" {
		fail(EnvMinNumNodes, "required")
	} else if n, err := strconv.Atoi(raw); err != nil || n < 0 {
		fail(EnvMinNumNodes, "must be a non-negative integer, got %q", raw)
	} else {
		s.MinNodes = n
	}

	s.TablePrefix = get(EnvTablePrefix)
	s.StorageConnectionString = get(EnvStorageConnectionString)
	if requireTable {
		if s.TablePrefix == "" {
			fail(EnvTablePrefix, "required for the table metric backend")
		}
		if s.StorageConnectionString == "" {
			fail(EnvStorageConnectionString, "required for the table metric backend")
		}
	}

	if raw := get(EnvTimeOfCreation); raw == "" {
		fail(EnvTimeOfCreation, "required")
	} else if created, err := ParseCreationTime(raw); err != nil {
		fail(EnvTimeOfCreation, "%v", err)
	} else {
		s.CreatedAt = created
	}

	if raw := get(EnvStartupDelayInMin); raw == "" {
		fail(EnvStartupDelayInMin, "required")
	} else if minutes, err := strconv.ParseFloat(raw, 64); err != nil || minutes < 0 {
		fail(EnvStartupDelayInMin, "must be a non-negative number, got %q", raw)
	} else {
		s.StartupDelay = time.Duration(minutes * float64(time.Minute))
	}

	if len(errs) > 0 {
		return s, fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return s, nil
}

// ParseCreationTime decodes the creation timestamp. The canonical form is
// base64 of "yyyy-MM-ddTHH:mm:ssZ"; a plain RFC 3339 value is also accepted.
func ParseCreationTime(raw string) (time.Time, error) {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if t, err := time.Parse(creationLayout, strings.TrimSpace(string(decoded))); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse creation time %q", raw)
	}
	return t.UTC(), nil
}

// EncodeCreationTime renders t in the canonical base64 form.
func EncodeCreationTime(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.UTC().Format(creationLayout)))
}

func parsePositiveFloat(raw, key string, fail func(key, format string, args ...any)) float64 {
	if raw == "" {
		fail(key, "required")
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		fail(key, "must be a positive number, got %q", raw)
		return 0
	}
	return v
}
