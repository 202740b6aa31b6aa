package verification

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// ParameterSpec validates and renders the values of one parameter kind.
type ParameterSpec interface {
	// Validate checks value against the declared parameter and returns the value to use.
	Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error)
	// Argument renders a validated value for the invocation. An empty result adds nothing.
	Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string
}

var specs = map[domain.ParameterKind]ParameterSpec{
	domain.KindInteger:        integerSpec{},
	domain.KindFloat:          floatSpec{},
	domain.KindText:           textSpec{},
	domain.KindBoolean:        booleanSpec{},
	domain.KindEnumeration:    enumerationSpec{},
	domain.KindInputFile:      fileSpec{directory: false},
	domain.KindInputDirectory: fileSpec{directory: true},
	domain.KindPeer:           peerSpec{},
	domain.KindLicense:        resourceSpec{kind: domain.KindLicense},
	domain.KindIngress:        resourceSpec{kind: domain.KindIngress},
	domain.KindNetworkIP:      resourceSpec{kind: domain.KindNetworkIP},
}

// SpecFor returns the spec of a parameter kind.
func SpecFor(kind domain.ParameterKind) (ParameterSpec, bool) {
	s, ok := specs[kind]
	return s, ok
}

func withFlag(param domain.ApplicationParameter, value string) []string {
	if param.Flag == "" {
		return []string{value}
	}
	return []string{param.Flag, value}
}

func typeMismatch(param domain.ApplicationParameter, value domain.ParameterValue) error {
	return fmt.Errorf("expected %s, got %s", param.Type, value.Kind())
}

type integerSpec struct{}

func (integerSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	v, ok := value.(domain.IntValue)
	if !ok {
		return nil, typeMismatch(param, value)
	}
	n := float64(v.Value)
	if param.Min != nil && n < *param.Min {
		return nil, fmt.Errorf("%d is below the minimum %v", v.Value, *param.Min)
	}
	if param.Max != nil && n > *param.Max {
		return nil, fmt.Errorf("%d is above the maximum %v", v.Value, *param.Max)
	}
	if param.Step != nil && *param.Step > 0 {
		base := 0.0
		if param.Min != nil {
			base = *param.Min
		}
		if math.Mod(n-base, *param.Step) != 0 {
			return nil, fmt.Errorf("%d is not a multiple of the step %v", v.Value, *param.Step)
		}
	}
	return v, nil
}

func (integerSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, strconv.FormatInt(value.(domain.IntValue).Value, 10))
}

type floatSpec struct{}

func (floatSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	var f float64
	switch v := value.(type) {
	case domain.FloatValue:
		f = v.Value
	case domain.IntValue:
		f = float64(v.Value)
	default:
		return nil, typeMismatch(param, value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("value must be a finite number")
	}
	if param.Min != nil && f < *param.Min {
		return nil, fmt.Errorf("%v is below the minimum %v", f, *param.Min)
	}
	if param.Max != nil && f > *param.Max {
		return nil, fmt.Errorf("%v is above the maximum %v", f, *param.Max)
	}
	return domain.FloatValue{Value: f}, nil
}

func (floatSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, strconv.FormatFloat(value.(domain.FloatValue).Value, 'f', -1, 64))
}

type textSpec struct{}

func (textSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	v, ok := value.(domain.TextValue)
	if !ok {
		return nil, typeMismatch(param, value)
	}
	return v, nil
}

func (textSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, value.(domain.TextValue).Value)
}

type booleanSpec struct{}

func (booleanSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	v, ok := value.(domain.BoolValue)
	if !ok {
		return nil, typeMismatch(param, value)
	}
	return v, nil
}

// Argument renders a flagged boolean as the bare flag when true.
func (booleanSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	b := value.(domain.BoolValue).Value
	if param.Flag != "" {
		if b {
			return []string{param.Flag}
		}
		return nil
	}
	return []string{strconv.FormatBool(b)}
}

type enumerationSpec struct{}

func (enumerationSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	var s string
	switch v := value.(type) {
	case domain.EnumValue:
		s = v.Value
	case domain.TextValue:
		s = v.Value
	default:
		return nil, typeMismatch(param, value)
	}
	for _, opt := range param.Options {
		if opt.Value == s {
			return domain.EnumValue{Value: s}, nil
		}
	}
	return nil, fmt.Errorf("%q is not one of the allowed options", s)
}

func (enumerationSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, value.(domain.EnumValue).Value)
}

// fileSpec only checks the shape. Existence and permissions are checked against the file service.
type fileSpec struct {
	directory bool
}

func (s fileSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	v, ok := value.(domain.FileValue)
	if !ok || v.Directory != s.directory {
		return nil, typeMismatch(param, value)
	}
	return v, nil
}

func (fileSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, value.(domain.FileValue).Path)
}

type peerSpec struct{}

func (peerSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	v, ok := value.(domain.PeerValue)
	if !ok {
		return nil, typeMismatch(param, value)
	}
	if !validHostname(v.Hostname) {
		return nil, fmt.Errorf("invalid hostname %q", v.Hostname)
	}
	return v, nil
}

func (peerSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, value.(domain.PeerValue).Hostname)
}

type resourceSpec struct {
	kind domain.ParameterKind
}

func (s resourceSpec) Validate(param domain.ApplicationParameter, value domain.ParameterValue) (domain.ParameterValue, error) {
	v, ok := value.(domain.ResourceValue)
	if !ok || v.ResourceKind != s.kind {
		return nil, typeMismatch(param, value)
	}
	return v, nil
}

func (resourceSpec) Argument(param domain.ApplicationParameter, value domain.ParameterValue) []string {
	return withFlag(param, value.(domain.ResourceValue).ID)
}

// defaultValue decodes a declared default for scalar kinds.
func defaultValue(param domain.ApplicationParameter) (domain.ParameterValue, bool) {
	if len(param.Default) == 0 || string(param.Default) == "null" {
		return nil, false
	}
	wire, err := json.Marshal(struct {
		Type  domain.ParameterKind `json:"type"`
		Value json.RawMessage      `json:"value"`
	}{Type: param.Type, Value: param.Default})
	if err != nil {
		return nil, false
	}
	v, err := domain.UnmarshalParameter(wire)
	if err != nil {
		return nil, false
	}
	return v, true
}

func validHostname(h string) bool {
	if h == "" || len(h) > 63 {
		return false
	}
	for i, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' && i > 0 && i < len(h)-1:
		default:
			return false
		}
	}
	return true
}
