package phase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reconquest/karma-go"
	"gopkg.in/yaml.v3"
)

var ErrorUnknown = errors.New("unknown phase")

// Phase is the signal shown by a traffic light.
type Phase int32

const (
	Red Phase = iota
	Green
)

func Parse(value string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "red":
		return Red, nil
	case "green":
		return Green, nil
	default:
		return Red, karma.Format(ErrorUnknown, "unexpected phase: %q", value)
	}
}

func (phase Phase) Valid() bool {
	return phase == Red || phase == Green
}

// Next returns the phase that follows the given one.
func (phase Phase) Next() Phase {
	if phase == Green {
		return Red
	}

	return Green
}

func (phase Phase) String() string {
	switch phase {
	case Red:
		return "red"
	case Green:
		return "green"
	default:
		return fmt.Sprintf("unknown(%d)", int32(phase))
	}
}

func (phase Phase) MarshalText() ([]byte, error) {
	if !phase.Valid() {
		return nil, karma.Format(ErrorUnknown, "unexpected phase: %d", int32(phase))
	}

	return []byte(phase.String()), nil
}

func (phase *Phase) UnmarshalText(data []byte) error {
	value, err := Parse(string(data))
	if err != nil {
		return err
	}

	*phase = value

	return nil
}

func (phase *Phase) UnmarshalYAML(node *yaml.Node) error {
	var value string

	err := node.Decode(&value)
	if err != nil {
		return err
	}

	return phase.UnmarshalText([]byte(value))
}
