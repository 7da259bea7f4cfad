package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/havoc/pkg/types"
	"gopkg.in/yaml.v3"
)

// KindFault is the only document kind accepted by ParseFault
const KindFault = "Fault"

// FaultDocument is a fault definition file
type FaultDocument struct {
	APIVersion string        `yaml:"apiVersion"`
	Kind       string        `yaml:"kind"`
	Metadata   FaultMetadata `yaml:"metadata"`
	Spec       FaultSpecDoc  `yaml:"spec"`
}

type FaultMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type FaultSpecDoc struct {
	Extension  string            `yaml:"extension"`
	FaultClass string            `yaml:"faultClass,omitempty"`
	Timeout    time.Duration     `yaml:"timeout"`
	Endpoint   *EndpointDoc      `yaml:"endpoint,omitempty"`
	Args       map[string]string `yaml:"args,omitempty"`
	Schedule   *ScheduleDoc      `yaml:"schedule,omitempty"`

	Prerequisites            []CommandDoc `yaml:"prerequisites,omitempty"`
	Prepare                  []CommandDoc `yaml:"prepare,omitempty"`
	Injection                []CommandDoc `yaml:"injection,omitempty"`
	RemediationPrerequisites []CommandDoc `yaml:"remediationPrerequisites,omitempty"`
	Remediation              []CommandDoc `yaml:"remediation,omitempty"`
	Cleanup                  []CommandDoc `yaml:"cleanup,omitempty"`
	Status                   []CommandDoc `yaml:"status,omitempty"`

	Members []MemberDoc `yaml:"members,omitempty"`
}

type EndpointDoc struct {
	Name        string             `yaml:"name"`
	Type        types.EndpointType `yaml:"type"`
	Address     string             `yaml:"address,omitempty"`
	ContainerID string             `yaml:"containerId,omitempty"`
	Namespace   string             `yaml:"namespace,omitempty"`
	Labels      map[string]string  `yaml:"labels,omitempty"`
}

type ScheduleDoc struct {
	StartAt time.Time `yaml:"startAt"`
	Cron    string    `yaml:"cron,omitempty"`
}

type CommandDoc struct {
	Command         string            `yaml:"command"`
	IgnoreExitValue bool              `yaml:"ignoreExitValue,omitempty"`
	ExpectedOutput  []string          `yaml:"expectedOutput,omitempty"`
	KnownFailures   map[string]string `yaml:"knownFailures,omitempty"`
	Retries         int               `yaml:"retries,omitempty"`
	RetryInterval   int               `yaml:"retryInterval,omitempty"`
	Extract         []ExtractDoc      `yaml:"extract,omitempty"`
}

type ExtractDoc struct {
	Field string `yaml:"field"`
	Regex string `yaml:"regex,omitempty"`
}

// MemberDoc is one child of a composite fault
type MemberDoc struct {
	Name string       `yaml:"name"`
	Spec FaultSpecDoc `yaml:"spec"`
}

// LoadFault reads and parses a fault definition file
func LoadFault(path string) (*FaultDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseFault(data)
}

// ParseFault parses a fault definition
func ParseFault(data []byte) (*FaultDocument, error) {
	var doc FaultDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc.Kind != KindFault {
		return nil, fmt.Errorf("unsupported resource kind: %q", doc.Kind)
	}
	if doc.Metadata.Name == "" {
		return nil, fmt.Errorf("metadata.name is required")
	}
	if doc.Spec.Extension == "" {
		return nil, fmt.Errorf("spec.extension is required")
	}
	if doc.Spec.Extension == types.ExtensionComposite && len(doc.Spec.Members) == 0 {
		return nil, fmt.Errorf("composite fault %s has no members", doc.Metadata.Name)
	}
	return &doc, nil
}

// Task builds the initialized injection task described by the document
func (d *FaultDocument) Task(id string) *types.Task {
	task := types.NewTask(id, types.TaskTypeInjection, d.Spec.Extension, d.Spec.toFaultSpec(d.Metadata.Name))
	task.Initialized = true
	return task
}

func (s FaultSpecDoc) toFaultSpec(name string) *types.FaultSpec {
	spec := &types.FaultSpec{
		Name:                            name,
		FaultClass:                      s.FaultClass,
		Args:                            s.Args,
		TimeoutInMilliseconds:           s.Timeout.Milliseconds(),
		PrerequisiteCommands:            commands(s.Prerequisites),
		PrepareCommands:                 commands(s.Prepare),
		InjectionCommands:               commands(s.Injection),
		RemediationPrerequisiteCommands: commands(s.RemediationPrerequisites),
		RemediationCommands:             commands(s.Remediation),
		CleanupCommands:                 commands(s.Cleanup),
		StatusCommands:                  commands(s.Status),
	}
	if ep := s.Endpoint; ep != nil {
		spec.Endpoint = &types.Endpoint{
			Name:        ep.Name,
			Type:        ep.Type,
			Address:     ep.Address,
			ContainerID: ep.ContainerID,
			Namespace:   ep.Namespace,
			Labels:      ep.Labels,
		}
	}
	if s.Schedule != nil {
		spec.Schedule = &types.Schedule{StartAt: s.Schedule.StartAt, CronExpression: s.Schedule.Cron}
	}
	if len(s.Members) > 0 {
		composite := &types.CompositeSpec{}
		for _, m := range s.Members {
			composite.Members = append(composite.Members, &types.CompositeMember{
				Name:      m.Name,
				Extension: m.Spec.Extension,
				Spec:      m.Spec.toFaultSpec(m.Name),
			})
		}
		spec.Composite = composite
	}
	return spec
}

func commands(docs []CommandDoc) []*types.CommandInfo {
	if len(docs) == 0 {
		return nil
	}
	out := make([]*types.CommandInfo, 0, len(docs))
	for _, d := range docs {
		info := &types.CommandInfo{
			Command:              d.Command,
			IgnoreExitValueCheck: d.IgnoreExitValue,
			ExpectedOutputList:   d.ExpectedOutput,
			KnownFailureMap:      d.KnownFailures,
			NoOfRetries:          d.Retries,
			RetryInterval:        d.RetryInterval,
		}
		for _, e := range d.Extract {
			info.Extractions = append(info.Extractions, &types.FieldExtraction{Field: e.Field, Regex: e.Regex})
		}
		out = append(out, info)
	}
	return out
}
