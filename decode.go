package sonarfit

import (
	"encoding/json"
	"math"
)

// Payload keys accepted by the bridge.
const (
	KeyAPIKey            = "apiKey"
	KeyWorkoutType       = "workoutType"
	KeySets              = "sets"
	KeyReps              = "reps"
	KeyRestTime          = "restTime"
	KeyCountdownDuration = "countdownDuration"
	KeyAutoReLift        = "autoReLift"
	KeyDeviceType        = "deviceType"
)

// DecodeAPIKey extracts the apiKey of an initialize call.
func DecodeAPIKey(args any) (string, error) {
	m, ok := AsPayload(args)
	if !ok {
		return "", InvalidArgs("Missing apiKey")
	}
	key, ok := m[KeyAPIKey].(string)
	if !ok {
		return "", InvalidArgs("Missing apiKey")
	}
	return key, nil
}

// DecodePresentWorkoutArgs checks the payload shape before decoding it.
func DecodePresentWorkoutArgs(args any) (WorkoutConfig, error) {
	m, ok := AsPayload(args)
	if !ok {
		return WorkoutConfig{}, InvalidArgs("Invalid arguments")
	}
	return DecodeWorkoutConfig(m)
}

// DecodeWorkoutConfig validates a presentWorkout payload. Required fields
// are strict; optional fields silently fall back to their defaults.
func DecodeWorkoutConfig(args map[string]any) (WorkoutConfig, error) {
	raw, ok := args[KeyWorkoutType]
	if !ok {
		return WorkoutConfig{}, InvalidConfig(KeyWorkoutType, "missing")
	}
	name, ok := raw.(string)
	if !ok {
		return WorkoutConfig{}, InvalidConfig(KeyWorkoutType, "not a string")
	}
	workoutType, ok := ParseWorkoutType(name)
	if !ok {
		return WorkoutConfig{}, InvalidConfig(KeyWorkoutType, "unknown workout type")
	}

	sets, err := requiredCount(args, KeySets)
	if err != nil {
		return WorkoutConfig{}, err
	}
	reps, err := requiredCount(args, KeyReps)
	if err != nil {
		return WorkoutConfig{}, err
	}

	cfg := WorkoutConfig{
		WorkoutType:       workoutType,
		Sets:              sets,
		Reps:              reps,
		RestTime:          intOr(args[KeyRestTime], DefaultRestTime),
		CountdownDuration: intOr(args[KeyCountdownDuration], DefaultCountdownDuration),
		AutoReLift:        boolOr(args[KeyAutoReLift], DefaultAutoReLift),
		DeviceType:        DeviceNone,
	}
	if device, ok := args[KeyDeviceType].(string); ok {
		cfg.DeviceType = ParseDeviceType(device)
	}
	return cfg, nil
}

func requiredCount(args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok {
		return 0, InvalidConfig(key, "missing")
	}
	n, ok := IntValue(raw)
	if !ok {
		return 0, InvalidConfig(key, "not an integer")
	}
	if n <= 0 {
		return 0, InvalidConfig(key, "must be positive")
	}
	return n, nil
}

// AsPayload accepts map[string]any, or a generic map whose keys are all
// strings (what some binary codecs produce).
func AsPayload(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, m != nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// IntValue converts any integer kind to int. Floats count only when they
// have no fractional part, since JSON delivers every number as float64.
func IntValue(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		if v > math.MaxInt || v < math.MinInt {
			return 0, false
		}
		return int(v), true
	case uint:
		if v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		if v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return IntValue(n)
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt || f >= -math.MinInt {
		return 0, false
	}
	return int(f), true
}

func intOr(value any, def int) int {
	if n, ok := IntValue(value); ok {
		return n
	}
	return def
}

func boolOr(value any, def bool) bool {
	if b, ok := value.(bool); ok {
		return b
	}
	return def
}
