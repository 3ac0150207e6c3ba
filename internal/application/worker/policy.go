package worker

import "time"

// Directive is the supervisor's answer to a failed turn.
type Directive int

const (
	// Restart resets the node's state and keeps it running
	Restart Directive = iota
	// Stop shuts the node down
	Stop
)

func (d Directive) String() string {
	switch d {
	case Restart:
		return "restart"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Decision is a directive plus the delay to wait before applying it.
type Decision struct {
	Directive Directive
	Delay     time.Duration
}

// RestartPolicy decides what happens after a failure. failures counts
// consecutive restarts including this one.
type RestartPolicy interface {
	OnFailure(cause error, failures int) Decision
}

// AlwaysRestart restarts immediately on every failure.
type AlwaysRestart struct{}

// OnFailure implements RestartPolicy.
func (AlwaysRestart) OnFailure(error, int) Decision {
	return Decision{Directive: Restart}
}

// maxBackoff caps the delay when BackoffRestart has no Max.
const maxBackoff = 10 * time.Minute

// BackoffRestart restarts with exponentially growing delays and gives up
// after MaxRestarts failures when MaxRestarts is positive. A zero Max
// caps delays at ten minutes.
type BackoffRestart struct {
	MaxRestarts int
	Initial     time.Duration
	Max         time.Duration
}

// OnFailure implements RestartPolicy.
func (p BackoffRestart) OnFailure(_ error, failures int) Decision {
	if p.MaxRestarts > 0 && failures > p.MaxRestarts {
		return Decision{Directive: Stop}
	}
	return Decision{Directive: Restart, Delay: p.delay(failures)}
}

func (p BackoffRestart) delay(failures int) time.Duration {
	if p.Initial <= 0 || failures <= 0 {
		return 0
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = maxBackoff
	}
	d := p.Initial
	for i := 1; i < failures; i++ {
		if d > ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// NewRestartPolicy returns AlwaysRestart when neither limit nor backoff
// is configured.
func NewRestartPolicy(maxRestarts int, backoff time.Duration) RestartPolicy {
	if maxRestarts <= 0 && backoff <= 0 {
		return AlwaysRestart{}
	}
	return BackoffRestart{
		MaxRestarts: maxRestarts,
		Initial:     backoff,
		Max:         backoff * 32,
	}
}
