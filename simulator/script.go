package simulator

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// Outcome is the scripted end of a workout.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeStoppedEarly     Outcome = "stoppedEarly"
	OutcomePermissionDenied Outcome = "permissionDenied"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeNoResult         Outcome = "noResult"
)

var outcomes = []Outcome{
	OutcomeCompleted,
	OutcomeStoppedEarly,
	OutcomePermissionDenied,
	OutcomeCancelled,
	OutcomeNoResult,
}

// Script drives the simulated engine.
type Script struct {
	// APIKeys accepted by Initialize. Empty accepts any non-empty key.
	APIKeys           []string      `yaml:"apiKeys" json:"apiKeys"`
	InitDelay         time.Duration `yaml:"initDelay" json:"initDelay"`
	Outcome           Outcome       `yaml:"outcome" json:"outcome"`
	Delay             time.Duration `yaml:"delay" json:"delay"`
	RepsPerSet        []int         `yaml:"repsPerSet" json:"repsPerSet"`
	PermissionMessage string        `yaml:"permissionMessage" json:"permissionMessage"`
	// DuplicateCallbacks fires extra callbacks after the scripted one, the
	// way a misbehaving SDK would.
	DuplicateCallbacks bool `yaml:"duplicateCallbacks" json:"duplicateCallbacks"`
	RequireInitialize  bool `yaml:"requireInitialize" json:"requireInitialize"`
}

const defaultPermissionMessage = "Motion access was denied"

// DefaultScript completes every workout after a short delay.
func DefaultScript() Script {
	return Script{
		Outcome:           OutcomeCompleted,
		Delay:             2 * time.Second,
		PermissionMessage: defaultPermissionMessage,
	}
}

// Validate checks the script before it is used.
func (s Script) Validate() error {
	known := false
	for _, o := range outcomes {
		if s.Outcome == o {
			known = true
			break
		}
	}
	if !known {
		names := make([]string, len(outcomes))
		for i, o := range outcomes {
			names[i] = string(o)
		}
		return apperrors.New(fmt.Sprintf("unknown outcome %q, expected one of %s", s.Outcome, strings.Join(names, ", ")), apperrors.CategoryValidation).
			WithTextCode("SCRIPT_INVALID").
			WithMetadata(map[string]any{"field": "outcome"})
	}
	if s.Delay < 0 || s.InitDelay < 0 {
		return apperrors.New("delays must not be negative", apperrors.CategoryValidation).
			WithTextCode("SCRIPT_INVALID").
			WithMetadata(map[string]any{"field": "delay"})
	}
	for i, reps := range s.RepsPerSet {
		if reps < 0 {
			return apperrors.New(fmt.Sprintf("repsPerSet[%d] must not be negative", i), apperrors.CategoryValidation).
				WithTextCode("SCRIPT_INVALID").
				WithMetadata(map[string]any{"field": "repsPerSet"})
		}
	}
	return nil
}

// ParseScript reads YAML (or JSON) over the defaults.
func ParseScript(data []byte) (Script, error) {
	script := DefaultScript()
	if err := yaml.Unmarshal(data, &script); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return script, apperrors.Wrap(err, apperrors.CategoryBadInput, "parse simulator script")
	}
	if script.PermissionMessage == "" {
		script.PermissionMessage = defaultPermissionMessage
	}
	return script, script.Validate()
}

// LoadScript reads a script file. An empty path yields DefaultScript.
func LoadScript(path string) (Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, apperrors.Wrap(err, apperrors.CategoryBadInput, "read simulator script").
			WithMetadata(map[string]any{"path": path})
	}
	return ParseScript(data)
}
