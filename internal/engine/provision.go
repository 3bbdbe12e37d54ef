package engine

import (
	"fmt"

	"voice-scribe-service/internal/observability/metrics"

	"github.com/rs/zerolog/log"
)

// policy holds the default model and precision for a device class.
type policy struct {
	Model     string
	Precision Precision
}

var defaultPolicies = map[Device]policy{
	DeviceCUDA: {Model: "large-v3", Precision: PrecisionInt8Float16},
	DeviceCPU:  {Model: "medium", Precision: PrecisionInt8},
}

// smallerModel is the degraded model size used mid-way through the fallback
// sequence before abandoning the accelerated device class.
const smallerModel = "medium"

// Profile is a named bundle of default engine settings.
type Profile struct {
	Device    Device
	Model     string
	Precision Precision
	BeamSize  int
	Language  string
	Mock      bool
}

// Profiles enumerates the supported runtime profiles.
var Profiles = map[string]Profile{
	"quality@cuda": {
		Device:    DeviceCUDA,
		Model:     "large-v3",
		Precision: PrecisionInt8Float16,
		BeamSize:  5,
		Language:  "pl",
	},
	"cpu-fallback": {
		Device:    DeviceCPU,
		Model:     "medium",
		Precision: PrecisionInt8,
		BeamSize:  3,
		Language:  "pl",
	},
	"ci-mock": {
		Device:    DeviceCPU,
		Model:     "tiny",
		Precision: PrecisionInt8,
		BeamSize:  1,
		Language:  "pl",
		Mock:      true,
	},
}

// Overrides are explicit settings that take precedence field by field over
// profile defaults. Zero values mean "not set"; pointer fields distinguish
// an explicit false from absence.
type Overrides struct {
	Device      string
	Model       string
	Precision   string
	BeamSize    int
	Language    string
	VADFilter   *bool
	StripFiller *bool
	AlignWords  *bool
	Mock        *bool
}

// Config is the fully resolved engine configuration. Device, Model and
// Precision always reflect what was actually chosen, not what was requested.
type Config struct {
	Profile         string
	RequestedDevice Device
	Device          Device
	Model           string
	Precision       Precision
	BeamSize        int
	Language        string
	VADFilter       bool
	StripFiller     bool
	AlignWords      bool
	Mock            bool

	// Substituted reports that the requested device class was unavailable
	// and the fallback class was adopted during resolution.
	Substituted bool
	// FellBack reports that provisioning adopted a non-baseline candidate
	// after resource exhaustion.
	FellBack bool
}

func validDevice(d string) bool {
	return Device(d) == DeviceCUDA || Device(d) == DeviceCPU
}

func validPrecision(p string) bool {
	switch Precision(p) {
	case PrecisionInt8Float16, PrecisionInt8, PrecisionFloat16:
		return true
	}
	return false
}

// Resolve combines a named profile, explicit overrides, and device
// availability into a concrete configuration. Precedence per field:
// override > profile default > device policy default.
func Resolve(profileName string, ov Overrides, available func(Device) bool) (Config, error) {
	var prof Profile
	if profileName != "" {
		p, ok := Profiles[profileName]
		if !ok {
			return Config{}, fmt.Errorf("unknown engine profile %q", profileName)
		}
		prof = p
	}

	requested := DeviceCUDA
	switch {
	case ov.Device != "":
		if !validDevice(ov.Device) {
			return Config{}, fmt.Errorf("unknown device %q", ov.Device)
		}
		requested = Device(ov.Device)
	case prof.Device != "":
		requested = prof.Device
	}

	pol := defaultPolicies[requested]

	model := pol.Model
	modelExplicit := false
	switch {
	case ov.Model != "":
		model = ov.Model
		modelExplicit = true
	case prof.Model != "":
		model = prof.Model
	}

	precision := pol.Precision
	precisionExplicit := false
	switch {
	case ov.Precision != "":
		if !validPrecision(ov.Precision) {
			return Config{}, fmt.Errorf("unknown precision %q", ov.Precision)
		}
		precision = Precision(ov.Precision)
		precisionExplicit = true
	case prof.Precision != "":
		precision = prof.Precision
	}

	cfg := Config{
		Profile:         profileName,
		RequestedDevice: requested,
		Device:          requested,
		Model:           model,
		Precision:       precision,
		BeamSize:        5,
		Language:        "pl",
		VADFilter:       true,
	}

	if ov.BeamSize > 0 {
		cfg.BeamSize = ov.BeamSize
	} else if prof.BeamSize > 0 {
		cfg.BeamSize = prof.BeamSize
	}
	if ov.Language != "" {
		cfg.Language = ov.Language
	} else if prof.Language != "" {
		cfg.Language = prof.Language
	}
	if ov.VADFilter != nil {
		cfg.VADFilter = *ov.VADFilter
	}
	if ov.StripFiller != nil {
		cfg.StripFiller = *ov.StripFiller
	}
	if ov.AlignWords != nil {
		cfg.AlignWords = *ov.AlignWords
	}
	cfg.Mock = prof.Mock
	if ov.Mock != nil {
		cfg.Mock = *ov.Mock
	}

	if requested == DeviceCUDA && available != nil && !available(DeviceCUDA) {
		cpuPol := defaultPolicies[DeviceCPU]
		cfg.Device = DeviceCPU
		cfg.Substituted = true
		if !modelExplicit {
			cfg.Model = cpuPol.Model
		}
		if !precisionExplicit {
			cfg.Precision = cpuPol.Precision
		}
		log.Warn().
			Str("requested", string(requested)).
			Str("device", string(cfg.Device)).
			Str("model", cfg.Model).
			Str("precision", string(cfg.Precision)).
			Msg("Requested device unavailable, substituting fallback device class")
	}

	return cfg, nil
}

// Attempts builds the deterministic fallback sequence for a resolved
// configuration. Each candidate appears at most once; for an accelerated
// baseline the order is: baseline, baseline model at safer precision,
// smaller model at fastest precision, smaller model at safer precision,
// and finally the fallback device class with its policy defaults.
func Attempts(cfg Config) []Candidate {
	var attempts []Candidate
	seen := make(map[Candidate]bool)

	add := func(device Device, model string, precision Precision, reason string) {
		key := Candidate{Device: device, Model: model, Precision: precision}
		if seen[key] {
			return
		}
		seen[key] = true
		key.Reason = reason
		attempts = append(attempts, key)
	}

	add(cfg.Device, cfg.Model, cfg.Precision, "baseline configuration")

	if cfg.Device == DeviceCUDA {
		add(DeviceCUDA, cfg.Model, PrecisionInt8, "cuda: safer precision after exhaustion")
		add(DeviceCUDA, smallerModel, PrecisionInt8Float16, "cuda: smaller model")
		add(DeviceCUDA, smallerModel, PrecisionInt8, "cuda: smaller model, safer precision")
		cpuPol := defaultPolicies[DeviceCPU]
		add(DeviceCPU, cpuPol.Model, cpuPol.Precision, "cpu policy fallback")
	} else {
		add(DeviceCPU, "small", PrecisionInt8, "cpu minimal")
	}

	return attempts
}

// Provision loads an engine for the resolved configuration, walking the
// fallback sequence on resource exhaustion. The returned Config reflects the
// candidate that actually initialized. A mock configuration bypasses the
// loader entirely.
func Provision(cfg Config, loader Loader) (Engine, Config, error) {
	if cfg.Mock {
		log.Info().Str("language", cfg.Language).Msg("Mock engine configured, skipping real engine load")
		return NewMockEngine(cfg.Language), cfg, nil
	}

	attempts := Attempts(cfg)
	for i, attempt := range attempts {
		log.Info().
			Str("device", string(attempt.Device)).
			Str("model", attempt.Model).
			Str("precision", string(attempt.Precision)).
			Str("reason", attempt.Reason).
			Msg("Attempting engine initialization")

		eng, err := loader.TryLoad(attempt)
		metrics.DefaultMetrics.RecordEngineAttempt(string(attempt.Device), attempt.Model, string(attempt.Precision), err)
		if err == nil {
			if i > 0 {
				cfg.FellBack = true
				metrics.DefaultMetrics.EngineFallbacks.Inc()
				log.Warn().
					Str("baseline", fmt.Sprintf("%s/%s@%s", cfg.Model, cfg.Precision, cfg.Device)).
					Str("adopted", fmt.Sprintf("%s/%s@%s", attempt.Model, attempt.Precision, attempt.Device)).
					Msg("Adopted fallback engine configuration")
			}
			cfg.Device = attempt.Device
			cfg.Model = attempt.Model
			cfg.Precision = attempt.Precision
			return eng, cfg, nil
		}
		if !IsResourceExhausted(err) {
			return nil, cfg, fmt.Errorf("engine load failed (%s/%s@%s): %w", attempt.Model, attempt.Precision, attempt.Device, err)
		}
		log.Warn().
			Err(err).
			Str("device", string(attempt.Device)).
			Str("model", attempt.Model).
			Str("precision", string(attempt.Precision)).
			Msg("Candidate rejected for resource exhaustion")
	}

	return nil, cfg, fmt.Errorf("%w: exhausted %d candidates", ErrEngineUnavailable, len(attempts))
}
