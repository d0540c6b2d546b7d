package scanning

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/portsweep/internal/errors"
)

const (
	// DefaultConcurrency is the worker count used when none is configured.
	DefaultConcurrency = 1000
	// DefaultTimeout bounds each connection attempt.
	DefaultTimeout = 5 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Job describes one scan: a host, an inclusive port range and the limits
// the worker pool runs under.
type Job struct {
	Host        string        `json:"host" yaml:"host" validate:"required,max=253"`
	MinPort     int           `json:"min_port" yaml:"min_port" validate:"min=1,max=65535"`
	MaxPort     int           `json:"max_port" yaml:"max_port" validate:"min=1,max=65535,gtefield=MinPort"`
	Concurrency int           `json:"concurrency" yaml:"concurrency" validate:"min=1"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	RateLimit   int           `json:"rate_limit" yaml:"rate_limit" validate:"min=0"`
}

// NewJob builds and validates a job.
func NewJob(host string, minPort, maxPort, concurrency int, timeout time.Duration) (Job, error) {
	job := Job{
		Host:        host,
		MinPort:     minPort,
		MaxPort:     maxPort,
		Concurrency: concurrency,
		Timeout:     timeout,
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks port bounds, concurrency and timeout.
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return errors.ErrInvalidJob(describeValidation(err), nil).
			WithContext("host", j.Host).
			WithContext("min_port", j.MinPort).
			WithContext("max_port", j.MaxPort)
	}
	if strings.ContainsAny(j.Host, " \t\r\n/") {
		return errors.ErrInvalidJob("host contains invalid characters", nil).WithContext("host", j.Host)
	}
	return nil
}

// Ports returns the job's port range.
func (j Job) Ports() PortRange {
	return PortRange{Min: j.MinPort, Max: j.MaxPort}
}

// EffectiveConcurrency caps the worker count at the number of targets.
func (j Job) EffectiveConcurrency() int {
	n := j.Concurrency
	if count := j.Ports().Count(); count < n {
		n = count
	}
	if n < 1 {
		n = 1
	}
	return n
}

// describeValidation turns validator errors into one operator-facing line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldName(fe.StructField())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "gtefield":
			msgs = append(msgs, fmt.Sprintf("%s (%v) must not be less than %s", field, fe.Value(),
				fieldName(fe.Param())))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s, got %v", field, fe.Param(), fe.Value()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s, got %v", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return "invalid scan job: " + strings.Join(msgs, "; ")
}

func fieldName(structField string) string {
	switch structField {
	case "MinPort":
		return "min_port"
	case "MaxPort":
		return "max_port"
	case "RateLimit":
		return "rate_limit"
	default:
		return strings.ToLower(structField)
	}
}
