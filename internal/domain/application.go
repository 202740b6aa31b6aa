package domain

import "encoding/json"

// ToolBackend is the kind of environment an application runs in.
type ToolBackend string

const (
	BackendDocker         ToolBackend = "DOCKER"
	BackendVirtualMachine ToolBackend = "VIRTUAL_MACHINE"
)

// ApplicationRef names an application version.
type ApplicationRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (r ApplicationRef) String() string {
	return r.Name + "@" + r.Version
}

// EnumOption is one allowed value of an enumeration parameter.
type EnumOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ApplicationParameter describes one declared parameter of an application.
type ApplicationParameter struct {
	Name     string        `json:"name"`
	Type     ParameterKind `json:"type"`
	Title    string        `json:"title,omitempty"`
	Optional bool          `json:"optional"`
	// Min, Max and Step apply to integer and floating point parameters.
	Min     *float64        `json:"min,omitempty"`
	Max     *float64        `json:"max,omitempty"`
	Step    *float64        `json:"step,omitempty"`
	Options []EnumOption    `json:"options,omitempty"`
	Default json.RawMessage `json:"defaultValue,omitempty"`
	// Flag is prepended to the rendered argument, e.g. "--threads".
	Flag string `json:"flag,omitempty"`
}

// Application is a resolved application descriptor.
type Application struct {
	Name       string                 `json:"name"`
	Version    string                 `json:"version"`
	Title      string                 `json:"title"`
	Backend    ToolBackend            `json:"backend"`
	Image      string                 `json:"image,omitempty"`
	Invocation []string               `json:"invocation"`
	Parameters []ApplicationParameter `json:"parameters"`
	Withdrawn  bool                   `json:"withdrawn"`
}

func (a Application) Ref() ApplicationRef {
	return ApplicationRef{Name: a.Name, Version: a.Version}
}

// Parameter looks up a declared parameter by name.
func (a Application) Parameter(name string) (ApplicationParameter, bool) {
	for _, p := range a.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ApplicationParameter{}, false
}
