package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ParameterKind tags the variant held by a ParameterValue.
type ParameterKind string

const (
	KindInteger        ParameterKind = "integer"
	KindFloat          ParameterKind = "floating_point"
	KindText           ParameterKind = "text"
	KindBoolean        ParameterKind = "boolean"
	KindEnumeration    ParameterKind = "enumeration"
	KindInputFile      ParameterKind = "input_file"
	KindInputDirectory ParameterKind = "input_directory"
	KindPeer           ParameterKind = "peer"
	KindLicense        ParameterKind = "license_server"
	KindIngress        ParameterKind = "ingress"
	KindNetworkIP      ParameterKind = "network_ip"
)

// ParameterValue is one of IntValue, FloatValue, TextValue, BoolValue, EnumValue,
// FileValue, PeerValue or ResourceValue.
type ParameterValue interface {
	Kind() ParameterKind
	isParameterValue()
}

type IntValue struct{ Value int64 }

type FloatValue struct{ Value float64 }

type TextValue struct{ Value string }

type BoolValue struct{ Value bool }

type EnumValue struct{ Value string }

// FileValue mounts a file or directory from the file service.
type FileValue struct {
	Path      string
	ReadOnly  bool
	Directory bool
}

// PeerValue links another job of the same owner under Hostname.
type PeerValue struct {
	Hostname string
	JobID    string
}

// ResourceValue references a bindable resource (license, ingress or network ip).
type ResourceValue struct {
	ResourceKind ParameterKind
	ID           string
}

func (IntValue) Kind() ParameterKind   { return KindInteger }
func (FloatValue) Kind() ParameterKind { return KindFloat }
func (TextValue) Kind() ParameterKind  { return KindText }
func (BoolValue) Kind() ParameterKind  { return KindBoolean }
func (EnumValue) Kind() ParameterKind  { return KindEnumeration }
func (PeerValue) Kind() ParameterKind  { return KindPeer }

func (v FileValue) Kind() ParameterKind {
	if v.Directory {
		return KindInputDirectory
	}
	return KindInputFile
}

func (v ResourceValue) Kind() ParameterKind { return v.ResourceKind }

func (IntValue) isParameterValue()      {}
func (FloatValue) isParameterValue()    {}
func (TextValue) isParameterValue()     {}
func (BoolValue) isParameterValue()     {}
func (EnumValue) isParameterValue()     {}
func (FileValue) isParameterValue()     {}
func (PeerValue) isParameterValue()     {}
func (ResourceValue) isParameterValue() {}

// parameterWire is the JSON shape of a ParameterValue.
type parameterWire struct {
	Type     ParameterKind   `json:"type"`
	Value    json.RawMessage `json:"value,omitempty"`
	Path     string          `json:"path,omitempty"`
	ReadOnly bool            `json:"readOnly,omitempty"`
	Hostname string          `json:"hostname,omitempty"`
	JobID    string          `json:"jobId,omitempty"`
	ID       string          `json:"id,omitempty"`
}

// MarshalParameter encodes v in its wire form.
func MarshalParameter(v ParameterValue) ([]byte, error) {
	w := parameterWire{Type: v.Kind()}
	var err error
	switch p := v.(type) {
	case IntValue:
		w.Value, err = json.Marshal(p.Value)
	case FloatValue:
		w.Value, err = json.Marshal(p.Value)
	case TextValue:
		w.Value, err = json.Marshal(p.Value)
	case BoolValue:
		w.Value, err = json.Marshal(p.Value)
	case EnumValue:
		w.Value, err = json.Marshal(p.Value)
	case FileValue:
		w.Path, w.ReadOnly = p.Path, p.ReadOnly
	case PeerValue:
		w.Hostname, w.JobID = p.Hostname, p.JobID
	case ResourceValue:
		w.ID = p.ID
	default:
		return nil, fmt.Errorf("unsupported parameter value %T", v)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalParameter decodes the wire form produced by MarshalParameter.
// The declared type decides the variant; a value that does not fit it is an error.
func UnmarshalParameter(data []byte) (ParameterValue, error) {
	var w parameterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	switch w.Type {
	case KindInteger:
		var n int64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return nil, fmt.Errorf("integer value: %w", err)
		}
		return IntValue{Value: n}, nil
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return nil, fmt.Errorf("floating point value: %w", err)
		}
		return FloatValue{Value: f}, nil
	case KindText:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, fmt.Errorf("text value: %w", err)
		}
		return TextValue{Value: s}, nil
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return nil, fmt.Errorf("boolean value: %w", err)
		}
		return BoolValue{Value: b}, nil
	case KindEnumeration:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, fmt.Errorf("enumeration value: %w", err)
		}
		return EnumValue{Value: s}, nil
	case KindInputFile, KindInputDirectory:
		if w.Path == "" {
			return nil, fmt.Errorf("%s requires a path", w.Type)
		}
		return FileValue{Path: w.Path, ReadOnly: w.ReadOnly, Directory: w.Type == KindInputDirectory}, nil
	case KindPeer:
		if w.JobID == "" || w.Hostname == "" {
			return nil, fmt.Errorf("peer requires hostname and jobId")
		}
		return PeerValue{Hostname: w.Hostname, JobID: w.JobID}, nil
	case KindLicense, KindIngress, KindNetworkIP:
		if w.ID == "" {
			return nil, fmt.Errorf("%s requires an id", w.Type)
		}
		return ResourceValue{ResourceKind: w.Type, ID: w.ID}, nil
	default:
		return nil, fmt.Errorf("unknown parameter type %q", w.Type)
	}
}

// Parameters maps application parameter names to typed values.
type Parameters map[string]ParameterValue

func (p Parameters) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(p))
	for name, v := range p {
		b, err := MarshalParameter(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		raw[name] = b
	}
	return json.Marshal(raw)
}

func (p *Parameters) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Parameters, len(raw))
	for name, b := range raw {
		v, err := UnmarshalParameter(b)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = v
	}
	*p = out
	return nil
}

// Names returns the parameter names in sorted order.
func (p Parameters) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resources are mounts and bindings attached to a job outside the parameter list.
type Resources []ParameterValue

func (r Resources) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(r))
	for i, v := range r {
		b, err := MarshalParameter(v)
		if err != nil {
			return nil, fmt.Errorf("resource %d: %w", i, err)
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func (r *Resources) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Resources, 0, len(raw))
	for i, b := range raw {
		v, err := UnmarshalParameter(b)
		if err != nil {
			return fmt.Errorf("resource %d: %w", i, err)
		}
		out = append(out, v)
	}
	*r = out
	return nil
}
